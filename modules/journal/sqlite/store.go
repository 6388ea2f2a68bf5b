package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

const episodeColumns = "id, session_id, first_seq, last_seq, start_time, end_time, summary, topics, affect, decisions, created_at, archived"

// Commit persists a summary. The upsert keyed on the deterministic
// episode ID makes a retried commit leave exactly one row, and the
// archived flag of an existing row is never cleared by the retry.
func (s *Store) Commit(ctx context.Context, ep memory.EpisodeSummary) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	topics, err := json.Marshal(ep.Topics)
	if err != nil {
		return fmt.Errorf("sqlite: marshal topics: %w", err)
	}
	decisions, err := json.Marshal(ep.Decisions)
	if err != nil {
		return fmt.Errorf("sqlite: marshal decisions: %w", err)
	}

	createdAt := ep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, session_id, first_seq, last_seq, start_time, end_time, summary, topics, affect, decisions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary   = excluded.summary,
			topics    = excluded.topics,
			affect    = excluded.affect,
			decisions = excluded.decisions`,
		ep.ID, ep.SessionID, ep.FirstSeq, ep.LastSeq,
		ep.StartTime.UTC().Format(timeFormat), ep.EndTime.UTC().Format(timeFormat),
		ep.Summary, string(topics), ep.Affect, string(decisions),
		createdAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("sqlite: commit episode %s: %w", ep.ID, err)
	}
	return nil
}

// Get returns the episode with the given ID.
func (s *Store) Get(ctx context.Context, id string) (memory.EpisodeSummary, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)

	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.EpisodeSummary{}, memory.ErrEpisodeNotFound
	}
	if err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("sqlite: get episode %s: %w", id, err)
	}
	return ep, nil
}

// Recent returns episodes ending at or after since, newest first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]memory.EpisodeSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE end_time >= ?
		ORDER BY end_time DESC
		LIMIT ?`,
		since.UTC().Format(timeFormat), limit,
	)
}

// Unarchived returns episodes created before cutoff with no vector record.
func (s *Store) Unarchived(ctx context.Context, cutoff time.Time) ([]memory.EpisodeSummary, error) {
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE archived = 0 AND created_at < ?
		ORDER BY created_at ASC`,
		cutoff.UTC().Format(timeFormat),
	)
}

// MarkArchived records that a vector record now exists for the episode.
func (s *Store) MarkArchived(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE episodes SET archived = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: mark episode %s archived: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark episode %s archived: %w", id, err)
	}
	if n == 0 {
		return memory.ErrEpisodeNotFound
	}
	return nil
}

// BySession returns all episodes for a session ordered by first sequence.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]memory.EpisodeSummary, error) {
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE session_id = ?
		ORDER BY first_seq ASC`,
		sessionID,
	)
}

// SearchSummaries runs an FTS5 match over episode summaries and topics,
// best match first. It complements the vector index with exact keyword
// retrieval and needs no embedding backend.
func (s *Store) SearchSummaries(ctx context.Context, query string, limit int) ([]memory.EpisodeSummary, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE rowid IN (
			SELECT rowid FROM episodes_fts WHERE episodes_fts MATCH ? ORDER BY rank LIMIT ?
		)`,
		query, limit,
	)
}

func (s *Store) queryEpisodes(ctx context.Context, query string, args ...any) ([]memory.EpisodeSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var eps []memory.EpisodeSummary
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan episode: %w", err)
		}
		eps = append(eps, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: episode rows: %w", err)
	}
	return eps, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (memory.EpisodeSummary, error) {
	var (
		ep                           memory.EpisodeSummary
		startTime, endTime, created  string
		topics, decisions            string
		archived                     int
	)
	err := row.Scan(&ep.ID, &ep.SessionID, &ep.FirstSeq, &ep.LastSeq,
		&startTime, &endTime, &ep.Summary, &topics, &ep.Affect, &decisions,
		&created, &archived)
	if err != nil {
		return memory.EpisodeSummary{}, err
	}

	if ep.StartTime, err = time.Parse(timeFormat, startTime); err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("parse start_time %q: %w", startTime, err)
	}
	if ep.EndTime, err = time.Parse(timeFormat, endTime); err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("parse end_time %q: %w", endTime, err)
	}
	if ep.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if err := json.Unmarshal([]byte(topics), &ep.Topics); err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("unmarshal topics: %w", err)
	}
	if err := json.Unmarshal([]byte(decisions), &ep.Decisions); err != nil {
		return memory.EpisodeSummary{}, fmt.Errorf("unmarshal decisions: %w", err)
	}
	ep.Archived = archived != 0

	return ep, nil
}
