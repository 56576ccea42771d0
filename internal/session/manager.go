package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/capitalrow/scribed/internal/observability"
)

// ManagerConfig holds session lifecycle tunables
type ManagerConfig struct {
	PersistTTL       time.Duration // how long state survives a disconnect
	InactivityLimit  time.Duration // idle time before the sweep evicts
	SweepInterval    time.Duration
	ConnStalenessTTL time.Duration // live connections younger than this block a second register
	DedupWindowSize  int
}

// DefaultManagerConfig returns representative defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PersistTTL:       15 * time.Minute,
		InactivityLimit:  5 * time.Minute,
		SweepInterval:    30 * time.Second,
		ConnStalenessTTL: 45 * time.Second,
		DedupWindowSize:  16,
	}
}

// Session is the live, in-memory form of one recording session. State is
// the persistable core; everything else is runtime bookkeeping. Mutate only
// while holding mu — the per-session lock is what keeps a reconnect and the
// timeout sweep from racing.
type Session struct {
	ID string

	mu           sync.Mutex
	State        *State
	conn         *Connection
	lastActivity time.Time
	evicted      bool
}

// Touch refreshes the activity clock
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Evicted reports whether the session has been removed; results arriving
// for an evicted session must be discarded.
func (s *Session) Evicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// WithState runs fn while holding the session lock, returning false without
// running it if the session is already evicted. All state mutation in the
// pipeline goes through here.
func (s *Session) WithState(fn func(*State)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return false
	}
	fn(s.State)
	s.lastActivity = time.Now()
	return true
}

// RegisterResult is the verdict of a connection registration attempt
type RegisterResult struct {
	Admitted bool
	Replaced bool
	Reason   string
}

// Manager owns session lifecycle: join/rejoin with persistence, connection
// registration with the duplicate policy, and the inactivity sweep.
type Manager struct {
	config ManagerConfig
	store  Store
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// onEvict is invoked (outside the registry lock) for every evicted
	// session so the pipeline can stop its worker
	onEvict func(sessionID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager; call Start to begin the sweep loop
func NewManager(store Store, config ManagerConfig, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   config,
		store:    store,
		logger:   logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnEvict sets the eviction callback; must be called before Start
func (m *Manager) OnEvict(fn func(sessionID string)) {
	m.onEvict = fn
}

// Start launches the background inactivity sweep
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the sweep and persists every live session
func (m *Manager) Stop(ctx context.Context) {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := m.Persist(ctx, s.ID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", s.ID).Msg("failed to persist session during shutdown")
		}
	}
}

// Join returns the live session for the id, restoring persisted state from
// the store when a rejoin lands within the TTL, or creating a fresh one.
func (m *Manager) Join(ctx context.Context, sessionID string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		existing.Touch()
		return existing, false, nil
	}

	log := observability.WithSession(m.logger, sessionID)

	state, restored, err := m.store.Restore(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("session store unavailable, starting fresh")
	}
	if state == nil {
		state = NewState(sessionID, m.config.DedupWindowSize)
		restored = false
	}
	state.Status = StatusActive

	s := &Session{
		ID:           sessionID,
		State:        state,
		lastActivity: time.Now(),
	}
	m.sessions[sessionID] = s
	observability.RecordSessionStart()

	log.Info().
		Bool("restored", restored).
		Uint64("sequence", state.Sequence).
		Int("dedup_entries", state.Dedup.Len()).
		Msg("session joined")

	return s, restored, nil
}

// Get returns the live session if present
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Register binds a connection to a session. A second live connection within
// the staleness TTL is rejected; an older one is replaced.
func (m *Manager) Register(sessionID, connID string) RegisterResult {
	s, ok := m.Get(sessionID)
	if !ok {
		return RegisterResult{Admitted: false, Reason: "session not joined"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if s.conn.Age() < m.config.ConnStalenessTTL {
			return RegisterResult{Admitted: false, Reason: "duplicate connection"}
		}

		m.logger.Info().
			Str("session_id", sessionID).
			Str("old_connection_id", s.conn.ID).
			Str("new_connection_id", connID).
			Dur("stale_age", s.conn.Age()).
			Msg("replacing stale connection")

		s.conn = &Connection{ID: connID, SessionID: sessionID, RegisteredAt: time.Now()}
		s.lastActivity = time.Now()
		return RegisterResult{Admitted: true, Replaced: true}
	}

	s.conn = &Connection{ID: connID, SessionID: sessionID, RegisteredAt: time.Now()}
	s.lastActivity = time.Now()
	return RegisterResult{Admitted: true}
}

// Unregister detaches a connection; the session itself stays alive until
// the sweep or an explicit end
func (m *Manager) Unregister(sessionID, connID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.ID == connID {
		s.conn = nil
	}
}

// Persist writes the session's state to the store with the configured TTL
func (m *Manager) Persist(ctx context.Context, sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	snapshot := *s.State
	if s.State.Dedup != nil {
		window := *s.State.Dedup
		window.Entries = append([]string(nil), s.State.Dedup.Entries...)
		snapshot.Dedup = &window
	}
	snapshot.Transcript = append([]string(nil), s.State.Transcript...)
	s.mu.Unlock()

	return m.store.Persist(ctx, &snapshot, m.config.PersistTTL)
}

// End finishes a session explicitly: persist, then evict
func (m *Manager) End(ctx context.Context, sessionID string) {
	if err := m.Persist(ctx, sessionID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist session on end")
	}
	m.evict(sessionID, "explicit end")
}

// evict removes a session from the registry; idempotent and safe to race
// with a concurrent reconnect (the per-session lock decides the order)
func (m *Manager) evict(sessionID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	alreadyEvicted := s.evicted
	s.evicted = true
	s.State.Status = StatusEnded
	s.conn = nil
	s.mu.Unlock()

	if alreadyEvicted {
		return
	}

	observability.RecordSessionEnd()
	m.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session evicted")

	if m.onEvict != nil {
		m.onEvict(sessionID)
	}
}

// sweepLoop evicts sessions idle past the inactivity limit
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.RLock()
	expired := make([]string, 0)
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := time.Since(s.lastActivity)
		s.mu.Unlock()
		if idle > m.config.InactivityLimit {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		// Persist what we have so a late rejoin within the TTL continues
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Persist(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to persist session during sweep")
		}
		cancel()
		m.evict(id, "inactivity timeout")
	}
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
