package account

import (
	"context"
	"sync"
	"time"

	"tenant-auth/internal/refresh"
)

// MemoryDirectory is an in-memory Directory for tests and development.
type MemoryDirectory struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]Account
	issued map[refresh.Owner][2]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byName: make(map[string]Account),
		issued: make(map[refresh.Owner][2]string),
	}
}

func (d *MemoryDirectory) FindByUsername(_ context.Context, username string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byName[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (d *MemoryDirectory) FindByOwner(_ context.Context, o refresh.Owner) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.byName {
		if a.Owner() == o {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (d *MemoryDirectory) Create(_ context.Context, a Account) (Account, error) {
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[a.Username]; ok {
		return Account{}, ErrDuplicate
	}
	d.nextID++
	a.ID = d.nextID
	a.CreatedAt = time.Now()
	d.byName[a.Username] = a
	return a, nil
}

func (d *MemoryDirectory) RecordIssued(_ context.Context, o refresh.Owner, accessToken, refreshID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issued[o] = [2]string{accessToken, refreshID}
	return nil
}

// LastIssued returns what RecordIssued last stored for o.
func (d *MemoryDirectory) LastIssued(o refresh.Owner) (accessToken, refreshID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.issued[o]
	return v[0], v[1]
}
