package memory

import "context"

// Journal is the write-through persistence layer behind a working set.
// Every append is journaled before the working set reports success, so a
// crash after Append returns never loses a turn.
//
// Excised turns are marked, not deleted: the mark is applied only after
// the corresponding episode commit succeeds, so a crash between excision
// and commit leaves the turns replayable.
type Journal interface {
	// AppendTurn persists a turn for the session.
	AppendTurn(ctx context.Context, sessionID string, t Turn) error

	// MarkExcised records that all turns up to and including throughSeq
	// have been archived into an episode summary.
	MarkExcised(ctx context.Context, sessionID string, throughSeq uint64) error

	// Replay returns the session's live (non-excised) turns in sequence
	// order. Used to rebuild working sets after a restart.
	Replay(ctx context.Context, sessionID string) ([]Turn, error)

	// Sessions returns the IDs of all sessions with live turns.
	Sessions(ctx context.Context) ([]string, error)
}
