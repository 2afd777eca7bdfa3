package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgauthier/tradescope/config"
	"github.com/mgauthier/tradescope/internal/engine"
)

// Handle pairs a normalized dataset with lifecycle metadata for TTL eviction.
// The dataset itself is immutable after load; the handle lock only guards the
// expiry field.
type Handle struct {
	ID          string
	Path        string
	Fingerprint string // SHA-256 of the source bytes; the dataset's identity
	DS          *engine.Dataset
	LoadedAt    time.Time
	ExpiresAt   time.Time
	mu          sync.RWMutex
}

// Gate coordinates capacity for open dataset handles (backed by runtime.Controller).
type Gate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

// PathValidator abstracts filesystem path validation. Implementations return
// a canonical absolute path when allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// ErrHandleNotFound indicates an unknown or expired dataset handle ID.
var ErrHandleNotFound = errors.New("dataset: handle not found")

// Manager owns dataset lifecycle: loading, normalization, a content-hash
// identity cache, and TTL-based eviction. Loading a file whose bytes are
// already cached returns the existing handle instead of normalizing again,
// which keeps the engine itself free of any session state.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	byHash       map[string]string // fingerprint -> handle ID
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	validator    PathValidator
	stopCh       chan struct{}
	cleanupWG    sync.WaitGroup
}

// NewManager constructs the lifecycle manager. Pass ttl or cleanupEvery <= 0
// for defaults from config. Gate and validator can be nil for tests; clock
// defaults to time.Now when nil.
func NewManager(ttl, cleanupEvery time.Duration, gate Gate, validator PathValidator, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		byHash:       make(map[string]string),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		validator:    validator,
		stopCh:       make(chan struct{}),
	}
}

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops all handles.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		delete(m.handles, id)
		delete(m.byHash, h.Fingerprint)
		if m.gate != nil {
			m.gate.ReleaseDataset()
		}
	}
	return nil
}

// Open loads, normalizes and registers a dataset, returning its handle ID.
// When the file's content hash matches an already-open dataset, the cached
// handle is returned with a refreshed TTL and no capacity is consumed.
func (m *Manager) Open(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".xlsx", ".xlsm":
	default:
		return "", fmt.Errorf("dataset: unsupported format: %s", ext)
	}

	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", err
		}
		path = canonical
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("dataset: read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])

	// Identity cache hit: same bytes, same dataset.
	m.mu.RLock()
	id, ok := m.byHash[fingerprint]
	m.mu.RUnlock()
	if ok {
		if _, alive := m.Get(id); alive {
			return id, nil
		}
	}

	if err := m.acquire(ctx); err != nil {
		return "", err
	}

	raw, err := parseTable(path, data)
	if err != nil {
		m.release()
		return "", err
	}
	ds, err := engine.Normalize(raw)
	if err != nil {
		m.release()
		return "", err
	}

	loadedAt := m.clock()
	h := &Handle{
		ID:          uuid.NewString(),
		Path:        path,
		Fingerprint: fingerprint,
		DS:          ds,
		LoadedAt:    loadedAt,
		ExpiresAt:   loadedAt.Add(m.ttl),
	}

	m.mu.Lock()
	m.handles[h.ID] = h
	m.byHash[fingerprint] = h.ID
	m.mu.Unlock()
	return h.ID, nil
}

// Adopt registers an already-normalized dataset. Intended for tests.
func (m *Manager) Adopt(ctx context.Context, ds *engine.Dataset) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("dataset: nil dataset")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	loadedAt := m.clock()
	h := &Handle{
		ID:        uuid.NewString(),
		DS:        ds,
		LoadedAt:  loadedAt,
		ExpiresAt: loadedAt.Add(m.ttl),
	}
	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	return h.ID, nil
}

// Get returns the handle when present and refreshes its TTL (idle timeout
// semantics).
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// WithDataset resolves a handle and runs fn against its immutable dataset.
func (m *Manager) WithDataset(id string, fn func(*engine.Dataset) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	return fn(h.DS)
}

// CloseHandle removes a handle by ID, releasing capacity via the gate.
func (m *Manager) CloseHandle(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
		delete(m.byHash, h.Fingerprint)
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	m.release()
	return nil
}

// EvictExpired drops handles past their TTL.
func (m *Manager) EvictExpired() {
	now := m.clock()
	m.mu.Lock()
	var expired []string
	for id, h := range m.handles {
		if h.Expired(now) {
			expired = append(expired, id)
			delete(m.byHash, h.Fingerprint)
		}
	}
	for _, id := range expired {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	for range expired {
		m.release()
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireDataset(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseDataset()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return now.After(h.ExpiresAt)
}
