// Package chat runs multi-agent conversations: it owns session state,
// fans each user turn out to every participating agent and commits the
// turn only when all of them have answered.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/generator"
	"github.com/ashureev/agora-labs/internal/metrics"
	"github.com/ashureev/agora-labs/internal/store"
)

// Options configures an Orchestrator. Zero values disable the matching limit.
type Options struct {
	// Repository persists sessions. Nil keeps sessions in memory only.
	Repository store.SessionRepository
	// SessionTTL is how long a session may stay idle before Sweep removes it.
	SessionTTL time.Duration
	// MaxSessions caps sessions held in memory.
	MaxSessions int
	// MaxConcurrentGenerations caps in-flight generator calls across all sessions.
	MaxConcurrentGenerations int
	// GenerationTimeout bounds each generator call.
	GenerationTimeout time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type sessionState struct {
	mu      sync.Mutex
	session domain.Session
	closed  bool

	lastActive atomic.Int64 // unix nanos
}

func (s *sessionState) touch(t time.Time) { s.lastActive.Store(t.UnixNano()) }

func (s *sessionState) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

// Orchestrator coordinates chat sessions. It is safe for concurrent use;
// turns on the same session are serialized, turns on different sessions
// run in parallel.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	gen  generator.Generator
	repo store.SessionRepository
	sem  *semaphore.Weighted
	opts Options
	now  func() time.Time
}

// New creates an orchestrator that asks gen for every agent reply.
func New(gen generator.Generator, opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions: make(map[string]*sessionState),
		gen:      generator.WithTimeout(gen, opts.GenerationTimeout),
		repo:     opts.Repository,
		opts:     opts,
		now:      opts.Now,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if opts.MaxConcurrentGenerations > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentGenerations))
	}
	return o
}

// CreateSession registers a new session with the given agents in order.
func (o *Orchestrator) CreateSession(ctx context.Context, id string, agents []domain.Profile) (domain.Session, error) {
	if err := validateSession(id, agents); err != nil {
		return domain.Session{}, err
	}

	now := o.now()
	st := &sessionState{session: domain.Session{
		ID:        id,
		Agents:    cloneProfiles(agents),
		History:   []domain.Entry{},
		CreatedAt: now,
		UpdatedAt: now,
	}}
	st.touch(now)

	// Hold the state lock until the row is persisted so no turn can run
	// against a session that might still be rolled back.
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := o.admit(st, false); err != nil {
		return domain.Session{}, err
	}

	if o.repo != nil {
		if err := o.persistNew(ctx, &st.session, now); err != nil {
			st.closed = true
			o.forget(id, st)
			return domain.Session{}, err
		}
	}

	slog.Info("Chat session created", "session_id", id, "agents", st.session.AgentIDs())
	return st.session.Clone(), nil
}

// persistNew inserts sess. A stored row with the same ID that has already
// expired is replaced.
func (o *Orchestrator) persistNew(ctx context.Context, sess *domain.Session, now time.Time) error {
	err := o.repo.CreateSession(ctx, sess)
	if !errors.Is(err, store.ErrAlreadyExists) {
		if err != nil {
			return fmt.Errorf("persist session %s: %w", sess.ID, err)
		}
		return nil
	}

	stored, gerr := o.repo.GetSession(ctx, sess.ID)
	switch {
	case errors.Is(gerr, store.ErrNotFound):
	case gerr != nil:
		return fmt.Errorf("load session %s: %w", sess.ID, gerr)
	case !o.expired(stored.IdleFor(now)):
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.ID)
	default:
		if err := o.repo.DeleteSession(ctx, sess.ID); err != nil {
			return fmt.Errorf("delete expired session %s: %w", sess.ID, err)
		}
		slog.Debug("Replaced expired stored session", "session_id", sess.ID)
	}

	if err := o.repo.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrSessionExists, sess.ID)
		}
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	return nil
}

// PostMessage runs one turn: every agent in the session answers msg in
// parallel and the responses are returned in agent order. If any agent
// fails the turn is rejected with a *TurnError and history is unchanged.
func (o *Orchestrator) PostMessage(ctx context.Context, id, msg string) ([]domain.Response, error) {
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	for {
		st, err := o.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		responses, err := o.runTurn(ctx, st, msg)
		if errors.Is(err, errStaleSession) {
			continue
		}
		return responses, err
	}
}

// HandleMessage creates the session with agents when it does not exist and
// then posts msg. For an existing session agents is ignored.
func (o *Orchestrator) HandleMessage(ctx context.Context, id, msg string, agents []domain.Profile) ([]domain.Response, error) {
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	if _, err := o.lookup(ctx, id); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		if _, err := o.CreateSession(ctx, id, agents); err != nil && !errors.Is(err, ErrSessionExists) {
			return nil, err
		}
	}

	return o.PostMessage(ctx, id, msg)
}

// Session returns a snapshot of the session.
func (o *Orchestrator) Session(ctx context.Context, id string) (domain.Session, error) {
	for {
		st, err := o.lookup(ctx, id)
		if err != nil {
			return domain.Session{}, err
		}
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			continue
		}
		snap := st.session.Clone()
		st.mu.Unlock()
		return snap, nil
	}
}

// ListSessions returns snapshots of every in-memory session ordered by ID.
func (o *Orchestrator) ListSessions() []domain.Session {
	o.mu.RLock()
	states := make([]*sessionState, 0, len(o.sessions))
	for _, st := range o.sessions {
		states = append(states, st)
	}
	o.mu.RUnlock()

	out := make([]domain.Session, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.closed {
			out = append(out, st.session.Clone())
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseSession removes a session from memory and storage. A turn in
// progress on the session finishes first.
func (o *Orchestrator) CloseSession(ctx context.Context, id string) error {
	o.mu.RLock()
	st, ok := o.sessions[id]
	o.mu.RUnlock()

	if !ok {
		if o.repo == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if _, err := o.repo.GetSession(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return fmt.Errorf("load session %s: %w", id, err)
		}
		if err := o.repo.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	} else {
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return o.CloseSession(ctx, id)
		}
		if o.repo != nil {
			if err := o.repo.DeleteSession(ctx, id); err != nil {
				st.mu.Unlock()
				return fmt.Errorf("delete session %s: %w", id, err)
			}
		}
		st.closed = true
		o.forget(id, st)
		st.mu.Unlock()
	}

	metrics.SessionsEvicted.WithLabelValues("closed").Inc()
	slog.Info("Chat session closed", "session_id", id)
	return nil
}

// Sweep removes sessions idle longer than the configured TTL and returns
// how many in-memory sessions were removed. Sessions with a turn in
// progress are skipped.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) int {
	ttl := o.opts.SessionTTL
	if ttl <= 0 {
		return 0
	}

	var expired []string
	o.mu.Lock()
	for id, st := range o.sessions {
		if !o.expired(st.idleFor(now)) || !st.mu.TryLock() {
			continue
		}
		st.closed = true
		st.mu.Unlock()
		delete(o.sessions, id)
		expired = append(expired, id)
	}
	active := len(o.sessions)
	live := make([]string, 0, active)
	for id := range o.sessions {
		live = append(live, id)
	}
	o.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	metrics.SessionsEvicted.WithLabelValues("expired").Add(float64(len(expired)))

	if o.repo != nil {
		for _, id := range expired {
			if err := o.repo.DeleteSession(ctx, id); err != nil {
				slog.Warn("Failed to delete expired session", "session_id", id, "error", err)
			}
		}
		// Live sessions are expired by the pass above; their rows may lag
		// behind while a turn is in flight.
		if n, err := o.repo.CleanupExpiredSessions(ctx, now.Add(-ttl), live); err != nil {
			slog.Warn("Failed to clean up expired sessions", "error", err)
		} else if n > 0 {
			slog.Info("Removed expired persisted sessions", "count", n)
		}
	}

	return len(expired)
}

func (o *Orchestrator) runTurn(ctx context.Context, st *sessionState, msg string) ([]domain.Response, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, errStaleSession
	}

	started := o.now()
	sessionID := st.session.ID

	pending := domain.Entry{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   msg,
		CreatedAt: started,
	}
	visible := make([]domain.Entry, 0, len(st.session.History)+1)
	visible = append(visible, st.session.History...)
	visible = append(visible, pending)

	responses, err := o.fanOut(ctx, sessionID, st.session.Agents, visible)
	if err != nil {
		o.observeTurn(started, metrics.StatusError)
		slog.Warn("Chat turn rejected", "session_id", sessionID, "error", err)
		return nil, err
	}

	committed := o.now()
	entries := make([]domain.Entry, 0, len(responses)+1)
	entries = append(entries, pending)
	for _, r := range responses {
		entries = append(entries, domain.Entry{
			ID:        uuid.NewString(),
			Role:      domain.RoleAgent,
			AgentID:   r.AgentID,
			Content:   r.Text,
			CreatedAt: committed,
		})
	}

	if o.repo != nil {
		if err := o.repo.AppendEntries(ctx, sessionID, entries, committed); err != nil {
			o.observeTurn(started, metrics.StatusError)
			return nil, fmt.Errorf("persist turn for session %s: %w", sessionID, err)
		}
	}

	st.session.History = append(st.session.History, entries...)
	st.session.UpdatedAt = committed
	st.touch(committed)

	o.observeTurn(started, metrics.StatusSuccess)
	slog.Debug("Chat turn committed", "session_id", sessionID, "responses", len(responses))
	return responses, nil
}

// fanOut asks every agent for a reply against the same history snapshot.
// The first failure cancels the remaining calls.
func (o *Orchestrator) fanOut(ctx context.Context, sessionID string, agents []domain.Profile, visible []domain.Entry) ([]domain.Response, error) {
	responses := make([]domain.Response, len(agents))
	failures := make([]*AgentError, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		g.Go(func() error {
			if o.sem != nil {
				if err := o.sem.Acquire(gctx, 1); err != nil {
					failures[i] = &AgentError{AgentID: agent.ID, Err: err}
					return failures[i]
				}
				defer o.sem.Release(1)
			}

			history := append([]domain.Entry(nil), visible...)
			start := time.Now()
			resp, err := o.gen.Generate(gctx, agent, history)
			if err != nil {
				metrics.GenerationDuration.WithLabelValues(agent.ID, metrics.StatusError).Observe(time.Since(start).Seconds())
				failures[i] = &AgentError{AgentID: agent.ID, Err: err}
				return failures[i]
			}
			metrics.GenerationDuration.WithLabelValues(agent.ID, metrics.StatusSuccess).Observe(time.Since(start).Seconds())

			resp.AgentID = agent.ID
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, newTurnError(ctx, sessionID, failures)
	}
	return responses, nil
}

// lookup returns the live state for id, loading it from the repository on
// a cache miss.
func (o *Orchestrator) lookup(ctx context.Context, id string) (*sessionState, error) {
	o.mu.RLock()
	st, ok := o.sessions[id]
	o.mu.RUnlock()
	if ok {
		if o.expireIdle(ctx, id, st) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return st, nil
	}

	if o.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess, err := o.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if o.expired(sess.IdleFor(o.now())) {
		if err := o.repo.DeleteSession(ctx, id); err != nil {
			slog.Warn("Failed to delete expired session", "session_id", id, "error", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if sess.History == nil {
		sess.History = []domain.Entry{}
	}
	st = &sessionState{session: *sess}
	st.touch(sess.UpdatedAt)

	if err := o.admit(st, true); err != nil {
		if errors.Is(err, errStaleSession) {
			// Another caller loaded it first.
			return o.lookup(ctx, id)
		}
		return nil, err
	}
	slog.Debug("Chat session loaded from storage", "session_id", id, "entries", len(sess.History))
	return st, nil
}

// expireIdle removes st when it has been idle longer than the TTL and no
// turn is running on it. It reports whether st was removed.
func (o *Orchestrator) expireIdle(ctx context.Context, id string, st *sessionState) bool {
	if !o.expired(st.idleFor(o.now())) || !st.mu.TryLock() {
		return false
	}
	defer st.mu.Unlock()
	if st.closed {
		return false
	}

	st.closed = true
	o.forget(id, st)
	if o.repo != nil {
		if err := o.repo.DeleteSession(ctx, id); err != nil {
			slog.Warn("Failed to delete expired session", "session_id", id, "error", err)
		}
	}
	metrics.SessionsEvicted.WithLabelValues("expired").Inc()
	slog.Info("Chat session expired", "session_id", id)
	return true
}

func (o *Orchestrator) expired(idle time.Duration) bool {
	ttl := o.opts.SessionTTL
	return ttl > 0 && idle > ttl
}

// admit inserts st into the session map, evicting the least recently
// active idle session when the cap is reached. When loaded is true a
// concurrent insert of the same ID yields errStaleSession instead of
// ErrSessionExists.
func (o *Orchestrator) admit(st *sessionState, loaded bool) error {
	id := st.session.ID

	o.mu.Lock()
	defer func() {
		metrics.SessionsActive.Set(float64(len(o.sessions)))
		o.mu.Unlock()
	}()

	if _, ok := o.sessions[id]; ok {
		if loaded {
			return errStaleSession
		}
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	if limit := o.opts.MaxSessions; limit > 0 && len(o.sessions) >= limit {
		if !o.evictOldestLocked() {
			return fmt.Errorf("%w: %d", ErrSessionLimit, limit)
		}
	}

	o.sessions[id] = st
	return nil
}

// evictOldestLocked drops the least recently active session that has no
// turn in progress. The caller must hold o.mu. With a repository the
// evicted session stays persisted and is reloaded on next use.
func (o *Orchestrator) evictOldestLocked() bool {
	type candidate struct {
		id string
		st *sessionState
	}
	candidates := make([]candidate, 0, len(o.sessions))
	for id, st := range o.sessions {
		candidates = append(candidates, candidate{id, st})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].st.lastActive.Load() < candidates[j].st.lastActive.Load()
	})

	for _, c := range candidates {
		if !c.st.mu.TryLock() {
			continue
		}
		c.st.closed = true
		c.st.mu.Unlock()
		delete(o.sessions, c.id)
		metrics.SessionsEvicted.WithLabelValues("capacity").Inc()
		slog.Info("Chat session evicted", "session_id", c.id, "reason", "capacity")
		return true
	}
	return false
}

// forget removes id from the map if it still maps to st.
func (o *Orchestrator) forget(id string, st *sessionState) {
	o.mu.Lock()
	if o.sessions[id] == st {
		delete(o.sessions, id)
	}
	metrics.SessionsActive.Set(float64(len(o.sessions)))
	o.mu.Unlock()
}

func (o *Orchestrator) observeTurn(started time.Time, status string) {
	metrics.TurnsTotal.WithLabelValues(status).Inc()
	metrics.TurnDuration.WithLabelValues(status).Observe(o.now().Sub(started).Seconds())
}

func validateSession(id string, agents []domain.Profile) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidSession)
	}
	if len(agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidSession)
	}
	seen := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agent id is required", ErrInvalidSession)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: duplicate agent %s", ErrInvalidSession, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func cloneProfiles(agents []domain.Profile) []domain.Profile {
	out := make([]domain.Profile, len(agents))
	for i, a := range agents {
		out[i] = a.Clone()
	}
	return out
}
