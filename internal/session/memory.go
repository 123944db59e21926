package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"loginshield.io/internal/ids"
)

var (
	_ Registry  = (*MemoryRegistry)(nil)
	_ Transport = (*MemoryTransport)(nil)
)

// MemoryRegistry implements Registry with in-process locking. Used in dev mode
// and tests.
type MemoryRegistry struct {
	mu   sync.Mutex
	rows map[string]Session
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rows: make(map[string]Session)}
}

func (m *MemoryRegistry) Create(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.Create(ctx, s)
}

func (m *MemoryRegistry) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.DeleteByID(ctx, id)
}

func (m *MemoryRegistry) FindByIP(ctx context.Context, ip string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.FindByIP(ctx, ip)
}

func (m *MemoryRegistry) FindByUsername(ctx context.Context, username string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.FindByUsername(ctx, username)
}

func (m *MemoryRegistry) DeleteByIP(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.DeleteByIP(ctx, ip)
}

func (m *MemoryRegistry) DeleteByUsername(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.DeleteByUsername(ctx, username)
}

func (m *MemoryRegistry) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m}.DeleteCreatedBefore(ctx, cutoff)
}

// InTx holds the registry lock for the duration of fn.
func (m *MemoryRegistry) InTx(ctx context.Context, fn func(ctx context.Context, tx Registry) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, memView{m})
}

// Len returns the number of registered sessions.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memView operates on the map with the lock already held.
type memView struct{ m *MemoryRegistry }

func (v memView) Create(_ context.Context, s Session) error {
	if s.ID == "" || s.Username == "" || s.IP == "" {
		return ErrInvalidInput
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	v.m.rows[s.ID] = s
	return nil
}

func (v memView) DeleteByID(_ context.Context, id string) error {
	delete(v.m.rows, id)
	return nil
}

func (v memView) FindByIP(_ context.Context, ip string) ([]Session, error) {
	return v.filter(func(s Session) bool { return s.IP == ip }), nil
}

func (v memView) FindByUsername(_ context.Context, username string) ([]Session, error) {
	return v.filter(func(s Session) bool { return s.Username == username }), nil
}

func (v memView) DeleteByIP(_ context.Context, ip string) error {
	for id, s := range v.m.rows {
		if s.IP == ip {
			delete(v.m.rows, id)
		}
	}
	return nil
}

func (v memView) DeleteByUsername(_ context.Context, username string) error {
	for id, s := range v.m.rows {
		if s.Username == username {
			delete(v.m.rows, id)
		}
	}
	return nil
}

func (v memView) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, s := range v.m.rows {
		if s.CreatedAt.Before(cutoff) {
			delete(v.m.rows, id)
			n++
		}
	}
	return n, nil
}

func (v memView) InTx(ctx context.Context, fn func(ctx context.Context, tx Registry) error) error {
	return fn(ctx, v)
}

func (v memView) filter(keep func(Session) bool) []Session {
	var out []Session
	for _, s := range v.m.rows {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MemoryTransport keeps session records in process memory with the same
// expiry rules as RedisTransport: a record dies after idleTTL without a Get
// or once it is older than maxAge. A zero duration disables that check.
type MemoryTransport struct {
	mu      sync.Mutex
	records map[string]memRecord
	idleTTL time.Duration
	maxAge  time.Duration
	now     func() time.Time
}

type memRecord struct {
	rec      Record
	lastSeen time.Time
}

// NewMemoryTransport creates an empty transport store.
func NewMemoryTransport(idleTTL, maxAge time.Duration) *MemoryTransport {
	return &MemoryTransport{records: make(map[string]memRecord), idleTTL: idleTTL, maxAge: maxAge, now: time.Now}
}

func (t *MemoryTransport) Create(_ context.Context, username, ip string) (Record, error) {
	if username == "" || ip == "" {
		return Record{}, ErrInvalidInput
	}
	now := t.now().UTC()
	rec := Record{ID: ids.NewSessionID(), Username: username, IP: ip, CreatedAt: now}
	t.mu.Lock()
	t.records[rec.ID] = memRecord{rec: rec, lastSeen: now}
	t.mu.Unlock()
	return rec, nil
}

// Get returns the record and refreshes its idle deadline.
func (t *MemoryTransport) Get(_ context.Context, id string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	now := t.now().UTC()
	if t.expired(m, now) {
		delete(t.records, id)
		return Record{}, ErrNotFound
	}
	m.lastSeen = now
	t.records[id] = m
	return m.rec, nil
}

func (t *MemoryTransport) expired(m memRecord, now time.Time) bool {
	if t.idleTTL > 0 && now.Sub(m.lastSeen) >= t.idleTTL {
		return true
	}
	return t.maxAge > 0 && now.Sub(m.rec.CreatedAt) >= t.maxAge
}

func (t *MemoryTransport) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
	return nil
}

// Len returns the number of live records.
func (t *MemoryTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UTC()
	n := 0
	for _, m := range t.records {
		if !t.expired(m, now) {
			n++
		}
	}
	return n
}
