package store

import (
	"context"

	"pobbin/metrics"
	"pobbin/pkg/digest"
	"pobbin/pkg/domain"
	"pobbin/svc/util"
)

// Storage routes reads between the legacy mirror and the object store.
// Writes always go to the object store. It keeps no state of its own.
type Storage struct {
	objects ObjectStore
	mirror  *Mirror
}

// New returns a facade over objects. mirror may be nil, in which case every
// read goes to objects.
func New(objects ObjectStore, mirror *Mirror) *Storage {
	return &Storage{objects: objects, mirror: mirror}
}

func (s *Storage) Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	if s.mirror != nil && CouldBeLegacyID(id) {
		util.Ctx(ctx).Info().Str("id", id.String()).Msg("fetching from legacy mirror")
		metrics.PasteRetrieved.WithLabelValues("mirror").Inc()
		return s.mirror.Get(ctx, id)
	}
	metrics.PasteRetrieved.WithLabelValues("objects").Inc()
	return s.objects.Get(ctx, id)
}

func (s *Storage) Put(ctx context.Context, id domain.PasteID, d digest.Digest, content []byte, meta *domain.PasteMetadata) error {
	return s.objects.Put(ctx, id, d, content, meta)
}

func (s *Storage) Delete(ctx context.Context, id domain.PasteID) error {
	return s.objects.Delete(ctx, id)
}

func (s *Storage) List(ctx context.Context, user domain.User) ([]domain.ListPaste, error) {
	return s.objects.List(ctx, user)
}
