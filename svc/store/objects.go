package store

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"

	"pobbin/pkg/digest"
	"pobbin/pkg/domain"

	"github.com/pkg/errors"
)

// ObjectStore is the durable home of pastes. Get returns nil, nil when the
// paste does not exist. Put replaces content and metadata in one write.
type ObjectStore interface {
	Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error)
	Put(ctx context.Context, id domain.PasteID, d digest.Digest, content []byte, meta *domain.PasteMetadata) error
	Delete(ctx context.Context, id domain.PasteID) error
	List(ctx context.Context, user domain.User) ([]domain.ListPaste, error)
}

const (
	pastePrefix = "paste/"
	userPrefix  = "user/"
	userPastes  = "/pastes/"
)

// ObjectPath shards unscoped ids by their first two characters:
// abcde is stored at paste/a/b/cde. User pastes live under the normalized
// user name.
func ObjectPath(id domain.PasteID) string {
	switch p := id.(type) {
	case domain.Paste:
		s := string(p.ID)
		return pastePrefix + s[0:1] + "/" + s[1:2] + "/" + s[2:]
	case domain.UserPaste:
		return UserPrefix(p.User) + string(p.ID)
	}
	panic("store: unknown paste id")
}

func UserPrefix(u domain.User) string {
	return userPrefix + string(u.Normalized()) + userPastes
}

// IDFromPath reverses ObjectPath for keys under UserPrefix(u).
func IDFromPath(u domain.User, path string) (domain.PasteID, error) {
	rest, ok := strings.CutPrefix(path, UserPrefix(u))
	if !ok {
		return nil, errors.Errorf("object %q is not owned by %s", path, u)
	}
	id, err := domain.ParseID(rest)
	if err != nil {
		return nil, errors.Wrapf(err, "object %q", path)
	}
	return domain.UserPaste{User: u, ID: id}, nil
}

func encodeRecord(p *domain.StoredPaste) ([]byte, error) {
	b, err := json.Marshal(p)
	return b, errors.Wrap(err, "encode record")
}

func decodeRecord(b []byte) (*domain.StoredPaste, error) {
	var p domain.StoredPaste
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	if p.EntityID == "" {
		return nil, errors.New("decode record: missing entity_id")
	}
	return &p, nil
}

// NewRecord builds the record Put persists.
func NewRecord(d digest.Digest, content []byte, meta *domain.PasteMetadata, lastModified int64) *domain.StoredPaste {
	return &domain.StoredPaste{
		Metadata:     meta,
		LastModified: lastModified,
		EntityID:     d.Hex(),
		Content:      string(content),
	}
}

// SortNewestFirst orders a listing by modification time, ties broken by id.
func SortNewestFirst(ps []domain.ListPaste) {
	slices.SortFunc(ps, func(a, b domain.ListPaste) int {
		if c := cmp.Compare(b.LastModified, a.LastModified); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}
