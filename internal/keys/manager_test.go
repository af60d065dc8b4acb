package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memSecondary struct {
	mu      sync.Mutex
	current string
	retired []Retired
	failAll bool
}

func (s *memSecondary) Name() string { return "mem" }

func (s *memSecondary) Load(context.Context) (Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return Material{}, errors.New("connection refused")
	}
	if s.current == "" {
		return Material{}, ErrNoKey
	}
	return Material{Secret: s.current}, nil
}

func (s *memSecondary) Save(_ context.Context, m Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("connection refused")
	}
	s.current = m.Secret
	return nil
}

func (s *memSecondary) Retire(_ context.Context, r Retired, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("connection refused")
	}
	s.retired = append([]Retired{r}, s.retired...)
	return nil
}

func (s *memSecondary) ListRetired(_ context.Context, notBefore time.Time) ([]Retired, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Retired
	for _, r := range s.retired {
		if !r.RetiredAt.Before(notBefore) {
			out = append(out, r)
		}
	}
	return out, nil
}

type failingPrimary struct{ FileStore }

func (failingPrimary) Save(context.Context, Material) error { return errors.New("read-only filesystem") }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestManager(t *testing.T, clk *clock, primary PrimaryStore, secondary SecondaryStore) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), Options{
		RotationEnabled: true,
		RetiredTTL:      time.Hour,
		Logger:          quietLogger(),
		Now:             clk.Now,
	}, primary, secondary)
	require.NoError(t, err)
	return m
}

func TestNewManager_GeneratesAndPersistsOnFirstRun(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fs := NewFileStore(filepath.Join(t.TempDir(), "keys", "jwt-secret.txt"))
	sec := &memSecondary{}

	m := newTestManager(t, clk, fs, sec)

	onDisk, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(m.CurrentSecret()), onDisk.Secret)
	require.Equal(t, onDisk.Secret, sec.current)

	h := m.Health(context.Background())
	require.True(t, h.Healthy)
	require.True(t, h.FileSaved)
	require.True(t, h.RedisSaved)
	require.Equal(t, SecretBytes, h.DecodedBytes)
}

func TestNewManager_PrimaryWinsAndRepairsSecondary(t *testing.T) {
	clk := &clock{t: time.Now()}
	fs := NewFileStore(filepath.Join(t.TempDir(), "jwt-secret.txt"))
	require.NoError(t, fs.Save(context.Background(), Material{Secret: "from-file"}))
	sec := &memSecondary{current: "from-redis"}

	m := newTestManager(t, clk, fs, sec)
	require.Equal(t, "from-file", string(m.CurrentSecret()))
	require.Equal(t, "from-file", sec.current)

	onDisk, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-file", onDisk.Secret)
}

func TestNewManager_EmptyPrimaryAdoptsSecondary(t *testing.T) {
	clk := &clock{t: time.Now()}
	fs := NewFileStore(filepath.Join(t.TempDir(), "jwt-secret.txt"))
	sec := &memSecondary{current: "from-peer"}

	m := newTestManager(t, clk, fs, sec)
	require.Equal(t, "from-peer", string(m.CurrentSecret()))

	onDisk, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-peer", onDisk.Secret)
}

func TestRestart_AfterRotationWithSecondaryDownKeepsNewKey(t *testing.T) {
	clk := &clock{t: time.Now()}
	path := filepath.Join(t.TempDir(), "k")
	sec := &memSecondary{}

	m := newTestManager(t, clk, NewFileStore(path), sec)
	old := string(m.CurrentSecret())

	sec.failAll = true
	require.NoError(t, m.Rotate(context.Background()))
	rotated := string(m.CurrentSecret())
	require.NotEqual(t, old, rotated)
	sec.failAll = false
	require.Equal(t, old, sec.current, "secondary missed the rotation")

	restarted := newTestManager(t, clk, NewFileStore(path), sec)
	require.Equal(t, rotated, string(restarted.CurrentSecret()))
	for _, r := range restarted.RetiredSecrets() {
		require.NotEqual(t, rotated, string(r))
	}

	onDisk, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, rotated, onDisk.Secret)
	require.Equal(t, rotated, sec.current, "secondary repaired from file")
}

func TestNewManager_ReloadsFromFileAcrossRestart(t *testing.T) {
	clk := &clock{t: time.Now()}
	path := filepath.Join(t.TempDir(), "jwt-secret.txt")

	first := newTestManager(t, clk, NewFileStore(path), NopStore{})
	second := newTestManager(t, clk, NewFileStore(path), NopStore{})
	require.Equal(t, first.CurrentSecret(), second.CurrentSecret())
}

func TestNewManager_SecondaryFailureIsSwallowed(t *testing.T) {
	clk := &clock{t: time.Now()}
	fs := NewFileStore(filepath.Join(t.TempDir(), "jwt-secret.txt"))
	m := newTestManager(t, clk, fs, &memSecondary{failAll: true})
	require.NotEmpty(t, m.CurrentSecret())
	require.False(t, m.Health(context.Background()).RedisSaved)
}

func TestNewManager_FirstRunPrimaryFailureIsFatal(t *testing.T) {
	p := &failingPrimary{FileStore: *NewFileStore(filepath.Join(t.TempDir(), "missing.txt"))}
	_, err := NewManager(context.Background(), Options{Logger: quietLogger()}, p, nil)
	require.ErrorIs(t, err, ErrPersistFailed)
}

func TestRotate_RetiresPreviousKeyWithinWindow(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sec := &memSecondary{}
	m := newTestManager(t, clk, NewFileStore(filepath.Join(t.TempDir(), "k")), sec)

	before := string(m.CurrentSecret())
	require.NoError(t, m.Rotate(context.Background()))
	after := string(m.CurrentSecret())
	require.NotEqual(t, before, after)

	retired := m.RetiredSecrets()
	require.Len(t, retired, 1)
	require.Equal(t, before, string(retired[0]))
	require.Len(t, sec.retired, 1)

	clk.Advance(30 * time.Minute)
	require.NoError(t, m.Rotate(context.Background()))
	retired = m.RetiredSecrets()
	require.Len(t, retired, 2)
	require.Equal(t, after, string(retired[0]), "most recently retired first")

	clk.Advance(45 * time.Minute)
	retired = m.RetiredSecrets()
	require.Len(t, retired, 1, "first retired key is past the window")
	require.Equal(t, after, string(retired[0]))
}

func TestRotate_PrimaryFailureLeavesStateUntouched(t *testing.T) {
	clk := &clock{t: time.Now()}
	dir := t.TempDir()
	m := newTestManager(t, clk, NewFileStore(filepath.Join(dir, "k")), nil)
	before := string(m.CurrentSecret())

	m.primary = &failingPrimary{}
	err := m.Rotate(context.Background())
	require.ErrorIs(t, err, ErrPersistFailed)
	require.Equal(t, before, string(m.CurrentSecret()))
	require.Empty(t, m.RetiredSecrets())
}

func TestRestart_RestoresRetiredKeysFromSecondary(t *testing.T) {
	clk := &clock{t: time.Now()}
	path := filepath.Join(t.TempDir(), "k")
	sec := &memSecondary{}

	m := newTestManager(t, clk, NewFileStore(path), sec)
	old := string(m.CurrentSecret())
	require.NoError(t, m.Rotate(context.Background()))

	restarted := newTestManager(t, clk, NewFileStore(path), sec)
	require.Equal(t, m.CurrentSecret(), restarted.CurrentSecret())
	retired := restarted.RetiredSecrets()
	require.Len(t, retired, 1)
	require.Equal(t, old, string(retired[0]))
}

func TestStaticSecret_DisablesRotationAndPersistence(t *testing.T) {
	m, err := NewManager(context.Background(), Options{
		StaticSecret: "0123456789abcdef0123456789abcdef",
		Logger:       quietLogger(),
	}, nil, nil)
	require.NoError(t, err)
	require.True(t, m.Static())

	require.ErrorIs(t, m.Rotate(context.Background()), ErrStaticSecret)
	require.Equal(t, "0123456789abcdef0123456789abcdef", string(m.CurrentSecret()))
	require.True(t, m.Health(context.Background()).Healthy)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately for a static secret")
	}
}

func TestRotate_ConcurrentReadersSeeOldOrNew(t *testing.T) {
	clk := &clock{t: time.Now()}
	m := newTestManager(t, clk, NewFileStore(filepath.Join(t.TempDir(), "k")), nil)

	seen := map[string]bool{string(m.CurrentSecret()): true}
	var mu sync.Mutex
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var bad []string

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur := string(m.CurrentSecret())
				mu.Lock()
				if !seen[cur] {
					bad = append(bad, cur)
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < 20; i++ {
		mu.Lock()
		err := m.Rotate(context.Background())
		seen[string(m.CurrentSecret())] = true
		mu.Unlock()
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	require.Empty(t, bad)
}

func TestRun_RotatesOnTick(t *testing.T) {
	clk := &clock{t: time.Now()}
	m := newTestManager(t, clk, NewFileStore(filepath.Join(t.TempDir(), "k")), nil)
	before := string(m.CurrentSecret())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return string(m.CurrentSecret()) != before
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
