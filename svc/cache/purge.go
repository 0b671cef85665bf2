package cache

import (
	"context"
	"strings"

	"pobbin/metrics"
	"pobbin/pkg/domain"
	"pobbin/svc/bg"
	"pobbin/svc/util"

	"github.com/hashicorp/go-multierror"
)

// Purger removes every cached URL variant of a paste from all tiers.
type Purger struct {
	backend Backend
	tasks   *bg.Registry
}

func NewPurger(b Backend, tasks *bg.Registry) *Purger {
	return &Purger{backend: b, tasks: tasks}
}

// Keys lists the cache keys of id under origin. User pastes are listed under
// both the given and the normalized spelling of the user.
func Keys(origin string, id domain.PasteID) []string {
	origin = strings.TrimSuffix(origin, "/")
	ids := []domain.PasteID{id}
	if up, ok := id.(domain.UserPaste); ok && up.User != up.User.Normalized() {
		ids = append(ids, domain.UserPaste{User: up.User.Normalized(), ID: up.ID})
	}
	var keys []string
	for _, p := range ids {
		for _, v := range domain.Variants(p) {
			if strings.Contains(v, "://") {
				keys = append(keys, v)
				continue
			}
			keys = append(keys, origin+"/"+strings.TrimPrefix(v, "/"))
		}
	}
	return keys
}

// Schedule runs Purge in the background. Failures are logged only.
func (p *Purger) Schedule(ctx context.Context, origin string, id domain.PasteID) {
	err := p.tasks.Go(ctx, "cache_purge", func(ctx context.Context) error {
		return p.Purge(ctx, origin, id)
	})
	if err != nil {
		util.Ctx(ctx).Error().Err(err).Str("paste", id.String()).Msg("cache purge not scheduled")
	}
}

// Purge deletes the keys of id from both tiers. It attempts every tier even
// when one fails.
func (p *Purger) Purge(ctx context.Context, origin string, id domain.PasteID) error {
	keys := Keys(origin, id)
	log := util.Ctx(ctx)
	log.Info().Str("paste", id.String()).Int("keys", len(keys)).Msg("resetting cached urls")
	var result *multierror.Error
	for _, t := range Tiers {
		if err := p.backend.Delete(ctx, t.Namespace(), keys...); err != nil {
			metrics.PurgedKeys.WithLabelValues(t.Namespace(), "error").Add(float64(len(keys)))
			result = multierror.Append(result, err)
			continue
		}
		metrics.PurgedKeys.WithLabelValues(t.Namespace(), "ok").Add(float64(len(keys)))
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	log.Debug().Str("paste", id.String()).Msg("done resetting caches")
	return nil
}
