package workingset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// Archiver compresses a block of excised turns into a committed episode
// summary. Implemented by the archivist.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, turns []memory.Turn) (memory.EpisodeSummary, error)
}

// pendingBlock is an excised block whose episode commit has not succeeded
// yet. Held in memory: the turns are otherwise unrecoverable.
type pendingBlock struct {
	sessionID string
	turns     []memory.Turn
}

// Manager owns the working sets of all live sessions and drives the
// excision → archival handoff. Appends within one session are serialized
// by the set's lock; sessions never block each other.
type Manager struct {
	mu   sync.RWMutex
	sets map[string]*Set

	journal   memory.Journal
	estimator memory.TokenEstimator
	archiver  Archiver
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	pendingMu sync.Mutex
	pending   []pendingBlock
}

// NewManager creates a session manager. archiver may be nil, in which
// case excised blocks are queued until FlushPending is called with one
// attached via SetArchiver.
func NewManager(journal memory.Journal, estimator memory.TokenEstimator, archiver Archiver, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sets:      make(map[string]*Set),
		journal:   journal,
		estimator: estimator,
		archiver:  archiver,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
	}
}

// SetArchiver attaches the archiver. Must be called before any append
// overflows if NewManager was given nil.
func (m *Manager) SetArchiver(a Archiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiver = a
}

// Restore rebuilds working sets from the journal after a restart.
func (m *Manager) Restore(ctx context.Context) error {
	ids, err := m.journal.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("workingset: list journaled sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		turns, err := m.journal.Replay(ctx, id)
		if err != nil {
			return fmt.Errorf("workingset: replay session %s: %w", id, err)
		}
		if len(turns) == 0 {
			continue
		}
		m.sets[id] = Restore(id, turns, m.journal, m.estimator, m.cfg, m.logger)
		m.logger.Info("session restored from journal", "session", id, "turns", len(turns))
	}
	return nil
}

// get returns the session's working set, creating it on first use.
func (m *Manager) get(sessionID string) *Set {
	m.mu.RLock()
	s, ok := m.sets[sessionID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sets[sessionID]; ok {
		return s
	}
	s = New(sessionID, m.journal, m.estimator, m.cfg, m.logger)
	m.sets[sessionID] = s
	return s
}

// Append admits a turn into the session's working set and, when an
// excision fires, archives the excised block synchronously. An archival
// failure does not fail the append: the block is held and retried by the
// background sweep, and the failure is logged loudly.
func (m *Manager) Append(ctx context.Context, sessionID string, t memory.Turn) error {
	excised, err := m.get(sessionID).Append(ctx, t)
	if err != nil {
		if errors.Is(err, memory.ErrOutOfOrderTurn) {
			m.metrics.OutOfOrder()
		}
		return err
	}
	m.metrics.TurnAppended()

	if len(excised) == 0 {
		return nil
	}
	m.metrics.Excision()
	m.archive(ctx, sessionID, excised)
	return nil
}

// Snapshot returns a read-only copy of the session's buffer, or nil if
// the session has no working set.
func (m *Manager) Snapshot(sessionID string) []memory.Turn {
	m.mu.RLock()
	s, ok := m.sets[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Snapshot()
}

// EndSession excises everything remaining in the session, archives it,
// and drops the working set. No turns are lost between sessions.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sets[sessionID]
	delete(m.sets, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	remaining := s.Clear()
	if len(remaining) == 0 {
		return nil
	}
	m.metrics.Excision()
	m.archive(ctx, sessionID, remaining)
	return nil
}

// Sessions returns the IDs of live sessions.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sets))
	for id := range m.sets {
		ids = append(ids, id)
	}
	return ids
}

// archive hands an excised block to the archivist. On success the
// journaled turns are marked excised; on failure the block is held for
// the background retry path.
func (m *Manager) archive(ctx context.Context, sessionID string, turns []memory.Turn) {
	ep, err := m.archiver.Archive(ctx, sessionID, turns)
	if err != nil {
		m.logger.Error("episode commit failed; holding excised turns",
			"session", sessionID,
			"turns", len(turns),
			"error", err,
		)
		m.hold(sessionID, turns)
		return
	}
	m.metrics.Rollover()

	if err := m.journal.MarkExcised(ctx, sessionID, ep.LastSeq); err != nil {
		// The episode is committed; a stale excision mark only means a
		// redundant (idempotent) re-archive after a restart.
		m.logger.Warn("journal excision mark failed", "session", sessionID, "error", err)
	}
}

// hold queues an excised block for retry.
func (m *Manager) hold(sessionID string, turns []memory.Turn) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending = append(m.pending, pendingBlock{sessionID: sessionID, turns: turns})
	m.metrics.SetPending(len(m.pending))
}

// FlushPending retries archival of held blocks. Called by the periodic
// sweep. Blocks that fail again stay queued.
func (m *Manager) FlushPending(ctx context.Context) error {
	m.pendingMu.Lock()
	blocks := m.pending
	m.pending = nil
	m.pendingMu.Unlock()

	var errs []error
	for _, b := range blocks {
		ep, err := m.archiver.Archive(ctx, b.sessionID, b.turns)
		if err != nil {
			m.hold(b.sessionID, b.turns)
			errs = append(errs, fmt.Errorf("session %s: %w", b.sessionID, err))
			continue
		}
		m.metrics.Rollover()
		if err := m.journal.MarkExcised(ctx, b.sessionID, ep.LastSeq); err != nil {
			m.logger.Warn("journal excision mark failed", "session", b.sessionID, "error", err)
		}
	}

	m.pendingMu.Lock()
	m.metrics.SetPending(len(m.pending))
	m.pendingMu.Unlock()

	return errors.Join(errs...)
}

// PendingBlocks returns the number of excised blocks awaiting commit.
func (m *Manager) PendingBlocks() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}
