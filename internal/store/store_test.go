package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/weftlabs/weft/internal/reconcile"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case **int:
			if v == nil {
				*d = nil
			} else {
				val := v.(int)
				*d = &val
			}
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// execRecord captures one Exec invocation.
type execRecord struct {
	sql  string
	args []any
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	execs        []execRecord
	execErr      error
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execRecord{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMigrate(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS transcript_words") {
		t.Errorf("migrate did not execute the schema DDL")
	}
}

func TestApplyDelta_InsertsNewWords(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db)

	delta := reconcile.Delta{
		NewWords: []reconcile.Word{
			{ID: "w-1", Text: "hello", StartMS: 0, EndMS: 300, Channel: 0},
			{ID: "w-2", Text: "world", StartMS: 350, EndMS: 700, Channel: 0, State: reconcile.StatePending},
		},
	}
	if err := s.ApplyDelta(context.Background(), "sess-1", delta); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	if len(db.execs) != 2 {
		t.Fatalf("expected 2 execs, got %d", len(db.execs))
	}
	for i, rec := range db.execs {
		if !strings.Contains(rec.sql, "INSERT INTO transcript_words") {
			t.Errorf("exec %d: not an insert: %s", i, rec.sql)
		}
		if rec.args[1] != "sess-1" {
			t.Errorf("exec %d: session arg = %v", i, rec.args[1])
		}
	}
	if db.execs[0].args[0] != "w-1" || db.execs[1].args[0] != "w-2" {
		t.Error("words inserted out of order")
	}
	if db.execs[1].args[6] != "pending" {
		t.Errorf("pending state not serialized: %v", db.execs[1].args[6])
	}
}

func TestApplyDelta_AppliesHintsAndDeletes(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db)

	speaker := 1
	delta := reconcile.Delta{
		NewWords:    []reconcile.Word{{ID: "w-9", Text: "redo", StartMS: 0, EndMS: 100}},
		Hints:       []reconcile.SpeakerHint{{WordID: "w-9", Speaker: speaker}},
		ReplacedIDs: []string{"w-3"},
	}
	if err := s.ApplyDelta(context.Background(), "sess-1", delta); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	if len(db.execs) != 3 {
		t.Fatalf("expected 3 execs (insert, hint, delete), got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[1].sql, "UPDATE transcript_words SET speaker") {
		t.Errorf("second exec is not the speaker update: %s", db.execs[1].sql)
	}
	if !strings.Contains(db.execs[2].sql, "DELETE FROM transcript_words") {
		t.Errorf("delete of replaced words must come last: %s", db.execs[2].sql)
	}
}

func TestApplyDelta_EmptyDeltaIsNoOp(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db)

	if err := s.ApplyDelta(context.Background(), "sess-1", reconcile.Delta{}); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if len(db.execs) != 0 {
		t.Errorf("empty delta executed %d statements", len(db.execs))
	}
}

func TestApplyDelta_InsertErrorStopsBatch(t *testing.T) {
	t.Parallel()

	db := &mockDB{execErr: errors.New("connection reset")}
	s := NewPostgresStore(db)

	delta := reconcile.Delta{
		NewWords:    []reconcile.Word{{ID: "w-1", Text: "x"}, {ID: "w-2", Text: "y"}},
		ReplacedIDs: []string{"w-0"},
	}
	err := s.ApplyDelta(context.Background(), "sess-1", delta)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(db.execs) != 1 {
		t.Errorf("batch continued after failure: %d execs", len(db.execs))
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{"w-1", 0, "hello", int64(0), int64(300), "final", nil},
				{"w-2", 0, "world", int64(350), int64(700), "pending", 1},
			}}, nil
		},
	}
	s := NewPostgresStore(db)

	words, err := s.Words(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Words: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[0].Text != "hello" || words[0].State != reconcile.StateFinal {
		t.Errorf("word 0 = %+v", words[0])
	}
	if words[0].Speaker != nil {
		t.Errorf("word 0 speaker = %v, want nil", words[0].Speaker)
	}
	if words[1].State != reconcile.StatePending {
		t.Errorf("word 1 state = %v, want pending", words[1].State)
	}
	if words[1].Speaker == nil || *words[1].Speaker != 1 {
		t.Errorf("word 1 speaker = %v, want 1", words[1].Speaker)
	}
}

func TestWords_EmptySessionReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	words, err := s.Words(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Words: %v", err)
	}
	if words == nil {
		t.Fatal("want empty slice, got nil")
	}
	if len(words) != 0 {
		t.Errorf("got %d words, want 0", len(words))
	}
}

func TestWord_NotFound(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	w, err := s.Word(context.Background(), "sess-1", "missing")
	if err != nil {
		t.Fatalf("Word: %v", err)
	}
	if w != nil {
		t.Errorf("got %+v, want nil for missing word", w)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := NewPostgresStore(db)
	if err := s.DeleteSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "DELETE FROM transcript_words") {
		t.Errorf("unexpected statements: %+v", db.execs)
	}
}

func TestParseState(t *testing.T) {
	t.Parallel()

	if parseState("pending") != reconcile.StatePending {
		t.Error("pending not parsed")
	}
	if parseState("final") != reconcile.StateFinal {
		t.Error("final not parsed")
	}
	if parseState("garbage") != reconcile.StateFinal {
		t.Error("unknown state must degrade to final")
	}
}
