// Package store persists finalized transcript words to PostgreSQL.
//
// The store mirrors the accumulator's view of a session: each emitted Delta
// is applied as one batch of inserts, speaker updates, and deletes, so the
// transcript_words table always equals the live word set for the session.
// Partial hypotheses are never persisted; they are display-only state.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/weftlabs/weft/internal/reconcile"
)

// Schema is the SQL DDL for the transcript_words table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcript_words (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    channel     INT NOT NULL,
    text        TEXT NOT NULL,
    start_ms    BIGINT NOT NULL,
    end_ms      BIGINT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'final',
    speaker     INT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_words_session ON transcript_words(session_id);
CREATE INDEX IF NOT EXISTS idx_transcript_words_order ON transcript_words(session_id, channel, start_ms);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// StoredWord is one persisted transcript word. Speaker is nil when no
// diarization hint has been recorded for the word.
type StoredWord struct {
	ID      string
	Channel int
	Text    string
	StartMS int64
	EndMS   int64
	State   reconcile.WordState
	Speaker *int
}

// PostgresStore persists transcript deltas to a PostgreSQL database.
// All methods are safe for concurrent use when the underlying DB is.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL. It is idempotent and safe to run on
// every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection, for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// ApplyDelta records one accumulator delta under sessionID. New words are
// upserted, speaker hints update their word's row, and replaced IDs are
// removed last so a replacement batch never leaves the session without its
// words. An empty delta is a no-op.
func (s *PostgresStore) ApplyDelta(ctx context.Context, sessionID string, delta reconcile.Delta) error {
	const insertWord = `
		INSERT INTO transcript_words (id, session_id, channel, text, start_ms, end_ms, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, state = EXCLUDED.state`

	for _, w := range delta.NewWords {
		_, err := s.db.Exec(ctx, insertWord,
			w.ID, sessionID, w.Channel, w.Text, w.StartMS, w.EndMS, w.State.String(),
		)
		if err != nil {
			return fmt.Errorf("store: insert word %q: %w", w.ID, err)
		}
	}

	const updateSpeaker = `
		UPDATE transcript_words SET speaker = $2 WHERE id = $1 AND session_id = $3`

	for _, h := range delta.Hints {
		if _, err := s.db.Exec(ctx, updateSpeaker, h.WordID, h.Speaker, sessionID); err != nil {
			return fmt.Errorf("store: apply hint for %q: %w", h.WordID, err)
		}
	}

	if len(delta.ReplacedIDs) > 0 {
		const deleteReplaced = `
			DELETE FROM transcript_words WHERE session_id = $1 AND id = ANY($2)`
		if _, err := s.db.Exec(ctx, deleteReplaced, sessionID, delta.ReplacedIDs); err != nil {
			return fmt.Errorf("store: delete replaced words: %w", err)
		}
	}

	return nil
}

// Words returns every persisted word for sessionID ordered by channel and
// start time. The result is empty, not nil, for an unknown session.
func (s *PostgresStore) Words(ctx context.Context, sessionID string) ([]StoredWord, error) {
	const q = `
		SELECT id, channel, text, start_ms, end_ms, state, speaker
		FROM   transcript_words
		WHERE  session_id = $1
		ORDER  BY channel, start_ms, end_ms`

	rows, err := s.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query words: %w", err)
	}
	return collectWords(rows)
}

// Word returns the persisted word with the given ID, or (nil, nil) when it
// does not exist.
func (s *PostgresStore) Word(ctx context.Context, sessionID, wordID string) (*StoredWord, error) {
	const q = `
		SELECT id, channel, text, start_ms, end_ms, state, speaker
		FROM   transcript_words
		WHERE  session_id = $1 AND id = $2`

	var (
		w     StoredWord
		state string
	)
	err := s.db.QueryRow(ctx, q, sessionID, wordID).Scan(
		&w.ID, &w.Channel, &w.Text, &w.StartMS, &w.EndMS, &state, &w.Speaker,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get word %q: %w", wordID, err)
	}
	w.State = parseState(state)
	return &w, nil
}

// DeleteSession removes all persisted words for sessionID.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM transcript_words WHERE session_id = $1`
	if _, err := s.db.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("store: delete session %q: %w", sessionID, err)
	}
	return nil
}

// collectWords scans pgx rows into StoredWord values.
func collectWords(rows pgx.Rows) ([]StoredWord, error) {
	words, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredWord, error) {
		var (
			w     StoredWord
			state string
		)
		if err := row.Scan(
			&w.ID, &w.Channel, &w.Text, &w.StartMS, &w.EndMS, &state, &w.Speaker,
		); err != nil {
			return StoredWord{}, err
		}
		w.State = parseState(state)
		return w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan words: %w", err)
	}
	if words == nil {
		words = []StoredWord{}
	}
	return words, nil
}

// parseState maps a stored state string back to a WordState. Unknown values
// degrade to final rather than failing the read.
func parseState(s string) reconcile.WordState {
	if s == "pending" {
		return reconcile.StatePending
	}
	return reconcile.StateFinal
}
