package store

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"pobbin/metrics"
	"pobbin/pkg/digest"
	"pobbin/pkg/domain"
	"pobbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	legacyIDLen   = 8
	maxMirrorBody = 1 << 20
)

// Mirror reads pastes from the external pastebin style mirror that served
// builds before pobbin existed. It never writes.
type Mirror struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	group   singleflight.Group
}

type MirrorOpts struct {
	BaseURL string
	RPS     float64
	Timeout time.Duration
	Client  *http.Client
}

func NewMirror(o MirrorOpts) *Mirror {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.RPS <= 0 {
		o.RPS = 5
	}
	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Mirror{
		base:    strings.TrimSuffix(o.BaseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(o.RPS), int(o.RPS)+1),
		timeout: o.Timeout,
	}
}

// CouldBeLegacyID reports whether id has the shape of a mirror id: unscoped
// and exactly eight ASCII letters or digits.
func CouldBeLegacyID(id domain.PasteID) bool {
	p, ok := id.(domain.Paste)
	if !ok || len(p.ID) != legacyIDLen {
		return false
	}
	for i := 0; i < len(p.ID); i++ {
		c := p.ID[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Get fetches id from the mirror. Any 2xx body is the paste, anything else
// is reported as not found. Concurrent fetches of one id share a request.
func (m *Mirror) Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	ch := m.group.DoChan(id.String(), func() (any, error) {
		// The fetch is shared, so it must outlive the caller that started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.fetch(fctx, id)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, domain.NewStorageError("mirror", errors.Wrap(ctx.Err(), "wait for mirror"))
	}
	if res.Err != nil {
		return nil, res.Err
	}
	p, _ := res.Val.(*domain.StoredPaste)
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Mirror) fetch(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	log := util.Ctx(ctx)
	if err := m.limiter.Wait(ctx); err != nil {
		metrics.MirrorFetches.WithLabelValues("throttled").Inc()
		return nil, domain.NewStorageError("mirror", errors.Wrap(err, "mirror rate limit"))
	}
	url := m.base + "/raw/" + string(id.Key())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewStorageError("mirror", errors.Wrap(err, "build mirror request"))
	}
	req.Header.Set("User-Agent", "pobbin")
	res, err := m.client.Do(req)
	if err != nil {
		metrics.MirrorFetches.WithLabelValues("error").Inc()
		return nil, domain.NewStorageError("mirror", errors.Wrapf(err, "fetch %s", url))
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Debug().Int("status", res.StatusCode).Str("id", id.String()).Msg("paste not on mirror")
		metrics.MirrorFetches.WithLabelValues("not_found").Inc()
		io.Copy(io.Discard, io.LimitReader(res.Body, maxMirrorBody))
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxMirrorBody+1))
	if err != nil {
		metrics.MirrorFetches.WithLabelValues("error").Inc()
		return nil, domain.NewStorageError("mirror", errors.Wrapf(err, "read %s", url))
	}
	if len(body) > maxMirrorBody {
		metrics.MirrorFetches.WithLabelValues("too_large").Inc()
		return nil, domain.NewStorageError("mirror", errors.Errorf("%s exceeds %d bytes", url, maxMirrorBody))
	}
	metrics.MirrorFetches.WithLabelValues("ok").Inc()
	return &domain.StoredPaste{
		EntityID: digest.Sum(body).Hex(),
		Content:  string(body),
	}, nil
}
