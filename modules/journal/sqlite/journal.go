package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

// timeFormat matches SQLite's strftime('%Y-%m-%dT%H:%M:%fZ') layout.
const timeFormat = "2006-01-02T15:04:05.000Z"

// AppendTurn persists a turn for the session.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t memory.Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, role, text, affect_tag, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, t.Seq, string(t.Role), t.Text, t.AffectTag, t.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append turn %d: %w", t.Seq, err)
	}
	return nil
}

// MarkExcised marks all turns up to and including throughSeq as archived.
// Marked turns stay in the table; they are simply invisible to Replay.
func (s *Store) MarkExcised(ctx context.Context, sessionID string, throughSeq uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE turns SET excised = 1
		WHERE session_id = ? AND seq <= ?`,
		sessionID, throughSeq,
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark excised through %d: %w", throughSeq, err)
	}
	return nil
}

// Replay returns the session's live turns in sequence order.
func (s *Store) Replay(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, text, affect_tag, ts
		FROM turns
		WHERE session_id = ? AND excised = 0
		ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: replay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []memory.Turn
	for rows.Next() {
		var (
			t  memory.Turn
			role, ts string
		)
		if err := rows.Scan(&t.Seq, &role, &t.Text, &t.AffectTag, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		t.Role = memory.Role(role)
		t.Timestamp, err = time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse turn timestamp %q: %w", ts, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: replay rows: %w", err)
	}
	return turns, nil
}

// Sessions returns the IDs of all sessions with live turns.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT session_id FROM turns
		WHERE excised = 0
		ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: session rows: %w", err)
	}
	return ids, nil
}
