package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pobbin/metrics"
	"pobbin/pkg/digest"
	"pobbin/pkg/domain"
	"pobbin/svc/store"
	"pobbin/svc/util"

	"github.com/pkg/errors"
)

// Invalidator drops cached responses of a paste after it changed.
type Invalidator interface {
	Schedule(ctx context.Context, origin string, id domain.PasteID)
}

type Paste struct {
	storage      store.ObjectStore
	purger       Invalidator
	maxPasteSize int
	shutdown     atomic.Bool
	opWg         sync.WaitGroup
}

func NewPaste(storage store.ObjectStore, purger Invalidator, maxPasteSize int64) *Paste {
	if storage == nil || purger == nil {
		panic("paste service: nil dependency (storage or purger)")
	}
	if maxPasteSize <= 0 {
		maxPasteSize = 512 * 1024
	}
	return &Paste{
		storage:      storage,
		purger:       purger,
		maxPasteSize: int(maxPasteSize),
	}
}

// Shutdown rejects new writes and waits for running ones to finish.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste writes didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

func (p *Paste) Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	sp, err := p.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, domain.ErrPasteNotFound
	}
	return sp, nil
}

func (p *Paste) List(ctx context.Context, user domain.User) ([]domain.ListPaste, error) {
	return p.storage.List(ctx, user)
}

func (p *Paste) validateContent(content string) error {
	if content == "" {
		return domain.ErrContentRequired
	}
	if len(content) > p.maxPasteSize {
		return domain.ErrPasteTooLarge
	}
	return nil
}

// authorize checks that session may write id. Unscoped pastes have no owner
// and are never writable after creation.
func authorize(id domain.PasteID, session domain.User) error {
	owner, ok := domain.Owner(id)
	if !ok {
		return domain.ErrForbidden
	}
	if session == "" {
		return domain.ErrUnauthorized
	}
	if !owner.Equal(session) {
		return domain.ErrForbidden
	}
	return nil
}

// GenerateID derives the id of an anonymous paste from its content.
func GenerateID(d digest.Digest) (domain.PasteID, error) {
	s, err := d.ShortID(digest.ShortIDBytes)
	if err != nil {
		return nil, err
	}
	id, err := domain.ParseID(s)
	if err != nil {
		return nil, errors.Wrap(err, "generated id")
	}
	return domain.Paste{ID: id}, nil
}

// Create stores a new paste. Without params.ID the id is generated from the
// content; a caller chosen id must be scoped to the session user.
func (p *Paste) Create(ctx context.Context, origin string, params domain.WriteParams) (domain.PasteID, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := p.validateContent(params.Content); err != nil {
		return nil, err
	}
	d := digest.SumString(params.Content)
	id := params.ID
	if id == nil {
		var err error
		if id, err = GenerateID(d); err != nil {
			return nil, err
		}
	} else if err := authorize(id, params.Session); err != nil {
		return nil, err
	}
	if err := p.storage.Put(ctx, id, d, []byte(params.Content), params.Metadata); err != nil {
		return nil, err
	}
	metrics.PasteWrites.WithLabelValues("create").Inc()
	util.Ctx(ctx).Info().Str("paste_id", id.String()).Int("size", len(params.Content)).Msg("paste created")
	p.purger.Schedule(ctx, origin, id)
	return id, nil
}

// Update replaces content and metadata of an existing paste.
func (p *Paste) Update(ctx context.Context, origin string, id domain.PasteID, params domain.WriteParams) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	if err := p.validateContent(params.Content); err != nil {
		return err
	}
	if err := authorize(id, params.Session); err != nil {
		return err
	}
	existing, err := p.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrPasteNotFound
	}
	d := digest.SumString(params.Content)
	if err := p.storage.Put(ctx, id, d, []byte(params.Content), params.Metadata); err != nil {
		return err
	}
	metrics.PasteWrites.WithLabelValues("update").Inc()
	util.Ctx(ctx).Info().Str("paste_id", id.String()).Msg("paste updated")
	p.purger.Schedule(ctx, origin, id)
	return nil
}

// Delete removes id. Deleting a missing paste succeeds.
func (p *Paste) Delete(ctx context.Context, origin string, id domain.PasteID, session domain.User) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	if err := authorize(id, session); err != nil {
		return err
	}
	if err := p.storage.Delete(ctx, id); err != nil {
		return err
	}
	metrics.PasteWrites.WithLabelValues("delete").Inc()
	util.Ctx(ctx).Info().Str("paste_id", id.String()).Msg("paste deleted")
	p.purger.Schedule(ctx, origin, id)
	return nil
}
