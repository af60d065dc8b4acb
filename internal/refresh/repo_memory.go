package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and development.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Record)}
}

func (r *MemoryRepo) Upsert(_ context.Context, rec Record, now time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cur := range r.byID {
		if cur.Owner == rec.Owner && cur.Live(now) {
			cur.TokenHash = rec.TokenHash
			cur.ExpiresAt = rec.ExpiresAt
			cur.SessionID = rec.SessionID
			cur.UpdatedAt = now
			r.byID[id] = cur
			return cur, nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.byID[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepo) FindByHash(_ context.Context, hash string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byID {
		if rec.TokenHash == hash {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *MemoryRepo) Rotate(_ context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.TokenHash != oldHash || rec.Revoked {
		return ErrConflict
	}
	rec.TokenHash = newHash
	rec.ExpiresAt = expiresAt
	rec.UpdatedAt = now
	r.byID[id] = rec
	return nil
}

func (r *MemoryRepo) Revoke(_ context.Context, hash string, owner Owner, now time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.byID {
		if rec.TokenHash == hash && rec.Owner == owner {
			rec.Revoked = true
			rec.UpdatedAt = now
			r.byID[id] = rec
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

// Records returns every stored record, including revoked ones.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}
