package keys

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/metrics"
)

var (
	ErrStaticSecret  = apperr.New(apperr.KindConflict, "key rotation unavailable: static secret configured")
	ErrPersistFailed = apperr.New(apperr.KindInternal, "signing key persistence failed")
)

type Options struct {
	// StaticSecret pins the signing secret and disables rotation and persistence.
	StaticSecret    string
	RotationEnabled bool
	RetiredTTL      time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// keyring is an immutable snapshot. Rotation builds a new one and swaps the
// pointer, so readers see either the old ring or the new ring.
type keyring struct {
	current Material
	retired []Retired // newest first
}

// Manager owns the signing secret lifecycle.
type Manager struct {
	ring atomic.Pointer[keyring]

	// serializes Rotate; readers never take it
	rotateMu sync.Mutex

	primary   PrimaryStore
	secondary SecondaryStore

	static          bool
	rotationEnabled bool
	retiredTTL      time.Duration

	log *slog.Logger
	now func() time.Time
}

// NewManager loads or creates the current secret. The primary store is
// authoritative; the secondary store only seeds an empty primary. A secret
// that cannot be written to the primary store is an error.
func NewManager(ctx context.Context, opts Options, primary PrimaryStore, secondary SecondaryStore) (*Manager, error) {
	if secondary == nil {
		secondary = NopStore{}
	}
	m := &Manager{
		primary:         primary,
		secondary:       secondary,
		static:          opts.StaticSecret != "",
		rotationEnabled: opts.RotationEnabled,
		retiredTTL:      opts.RetiredTTL,
		log:             opts.Logger,
		now:             opts.Now,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.retiredTTL <= 0 {
		m.retiredTTL = 24 * time.Hour
	}

	if m.static {
		m.log.Warn("jwt static secret configured; rotation and persistence disabled")
		m.ring.Store(&keyring{current: Material{Secret: opts.StaticSecret}})
		return m, nil
	}
	if primary == nil {
		return nil, errors.New("keys: primary store is required")
	}

	cur, err := m.loadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	retired, err := m.secondary.ListRetired(ctx, m.now().Add(-m.retiredTTL))
	if err != nil {
		m.log.Warn("load retired keys failed", "store", m.secondary.Name(), "err", err)
		retired = nil
	}
	retired = dropSecret(retired, cur.Secret)
	m.ring.Store(&keyring{current: cur, retired: retired})
	metrics.RetiredKeys.Set(float64(len(retired)))
	return m, nil
}

func (m *Manager) loadOrCreate(ctx context.Context) (Material, error) {
	cur, err := m.primary.Load(ctx)
	switch {
	case err == nil:
		// The secondary copy may lag behind a rotation whose secondary writes
		// failed; it is repaired from the primary, never the reverse.
		if cached, serr := m.secondary.Load(ctx); serr != nil || cached.Secret != cur.Secret {
			if serr == nil {
				m.log.Warn("secondary key store is stale; overwriting from file", "store", m.secondary.Name())
			}
			m.saveSecondary(ctx, cur)
		}
		m.log.Info("jwt secret loaded", "source", "file")
		return m.stamp(cur), nil
	case !errors.Is(err, ErrNoKey):
		return Material{}, ErrPersistFailed.With(err)
	}

	// No file yet: adopt the replicated key if there is one, so a fresh
	// instance signs with the same key as its peers.
	if cached, serr := m.secondary.Load(ctx); serr == nil {
		if err := m.primary.Save(ctx, cached); err != nil {
			return Material{}, ErrPersistFailed.With(err)
		}
		m.log.Info("jwt secret loaded", "source", m.secondary.Name())
		return m.stamp(cached), nil
	} else if !errors.Is(serr, ErrNoKey) {
		m.log.Warn("secondary key store unavailable", "store", m.secondary.Name(), "err", serr)
	}

	cur, err = Generate(m.now())
	if err != nil {
		return Material{}, ErrPersistFailed.With(err)
	}
	if err := m.primary.Save(ctx, cur); err != nil {
		return Material{}, ErrPersistFailed.With(err)
	}
	m.saveSecondary(ctx, cur)
	m.log.Info("jwt secret generated")
	return cur, nil
}

func (m *Manager) stamp(mat Material) Material {
	if mat.CreatedAt.IsZero() {
		mat.CreatedAt = m.now().UTC()
	}
	return mat
}

func (m *Manager) saveSecondary(ctx context.Context, mat Material) {
	if err := m.secondary.Save(ctx, mat); err != nil {
		m.log.Warn("secondary key store save failed", "store", m.secondary.Name(), "err", err)
	}
}

// CurrentSecret returns the signing key.
func (m *Manager) CurrentSecret() []byte {
	return m.ring.Load().current.Bytes()
}

// RetiredSecrets returns retired keys still inside the retention window,
// most recently retired first.
func (m *Manager) RetiredSecrets() [][]byte {
	_, retired := m.VerificationKeys()
	return retired
}

// VerificationKeys returns the current key and the live retired keys from a
// single snapshot.
func (m *Manager) VerificationKeys() (current []byte, retired [][]byte) {
	r := m.ring.Load()
	cutoff := m.now().Add(-m.retiredTTL)
	for _, k := range r.retired {
		if k.RetiredAt.Before(cutoff) {
			// newest first: everything after this is older
			break
		}
		retired = append(retired, k.Bytes())
	}
	return r.current.Bytes(), retired
}

// Static reports whether the secret was pinned by the operator.
func (m *Manager) Static() bool { return m.static }

// Rotate retires the current secret and installs a new one. The new secret is
// persisted to the primary store before it becomes visible.
func (m *Manager) Rotate(ctx context.Context) error {
	if m.static {
		m.log.Info("jwt key rotation skipped: static secret")
		metrics.KeyRotations.WithLabelValues("skipped").Inc()
		return ErrStaticSecret
	}

	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	now := m.now()
	old := m.ring.Load()

	next, err := Generate(now)
	if err != nil {
		metrics.KeyRotations.WithLabelValues("error").Inc()
		return ErrPersistFailed.With(err)
	}
	if err := m.primary.Save(ctx, next); err != nil {
		metrics.KeyRotations.WithLabelValues("error").Inc()
		m.log.Error("jwt key rotation aborted: primary store save failed", "err", err)
		return ErrPersistFailed.With(err)
	}
	m.saveSecondary(ctx, next)

	justRetired := Retired{Material: old.current, RetiredAt: now.UTC()}
	if err := m.secondary.Retire(ctx, justRetired, m.retiredTTL); err != nil {
		m.log.Warn("secondary key store retire failed", "store", m.secondary.Name(), "err", err)
	}

	cutoff := now.Add(-m.retiredTTL)
	retired := make([]Retired, 0, len(old.retired)+1)
	retired = append(retired, justRetired)
	for _, k := range old.retired {
		if !k.RetiredAt.Before(cutoff) {
			retired = append(retired, k)
		}
	}
	m.ring.Store(&keyring{current: next, retired: retired})

	metrics.KeyRotations.WithLabelValues("ok").Inc()
	metrics.RetiredKeys.Set(float64(len(retired)))
	m.log.Info("jwt key rotated", "retired_keys", len(retired))
	return nil
}

// Run rotates every interval until ctx is done. It returns immediately when
// rotation is disabled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.static || !m.rotationEnabled || interval <= 0 {
		m.log.Info("jwt scheduled rotation disabled")
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Rotate(ctx); err != nil {
				m.log.Error("scheduled jwt key rotation failed", "err", err)
			}
		}
	}
}

// Health describes the current key without exposing it.
type Health struct {
	Static         bool      `json:"static"`
	Base64Length   int       `json:"base64Length"`
	Base64Valid    bool      `json:"base64Valid"`
	DecodedBytes   int       `json:"decodedBytes"`
	FileSaved      bool      `json:"fileSaved"`
	RedisSaved     bool      `json:"redisSaved"`
	SecondaryStore string    `json:"secondaryStore"`
	RetiredKeys    int       `json:"retiredKeys"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	Healthy        bool      `json:"healthy"`
}

func (m *Manager) Health(ctx context.Context) Health {
	r := m.ring.Load()
	_, retired := m.VerificationKeys()
	h := Health{
		Static:         m.static,
		Base64Length:   len(r.current.Secret),
		SecondaryStore: m.secondary.Name(),
		RetiredKeys:    len(retired),
		CreatedAt:      r.current.CreatedAt,
	}
	if raw, err := base64.StdEncoding.DecodeString(r.current.Secret); err == nil {
		h.Base64Valid = true
		h.DecodedBytes = len(raw)
	}
	if m.static {
		h.Healthy = len(r.current.Secret) >= SecretBytes
		return h
	}
	if got, err := m.primary.Load(ctx); err == nil && got.Secret == r.current.Secret {
		h.FileSaved = true
	}
	if got, err := m.secondary.Load(ctx); err == nil && got.Secret == r.current.Secret {
		h.RedisSaved = true
	}
	h.Healthy = h.Base64Valid && h.DecodedBytes >= SecretBytes && h.FileSaved
	return h
}

func dropSecret(in []Retired, secret string) []Retired {
	out := in[:0]
	for _, r := range in {
		if r.Secret != secret {
			out = append(out, r)
		}
	}
	return out
}
