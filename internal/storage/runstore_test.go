package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func summary(id string, startOffset time.Duration) core.RunSummary {
	return core.RunSummary{
		ID:         id,
		Format:     core.FormatPNG,
		Status:     core.StatusCompleted,
		StartedAt:  base.Add(startOffset),
		FinishedAt: base.Add(startOffset + time.Minute),
	}
}

func TestMemoryRunStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(2)

	store.SaveRun(ctx, summary("a", 0))
	store.SaveRun(ctx, summary("b", time.Hour))
	store.SaveRun(ctx, summary("c", 2*time.Hour))

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns() = %v, want [c b]", ids(runs))
	}

	updated := summary("b", time.Hour)
	updated.ErrorCount = 3
	store.SaveRun(ctx, updated)
	runs, _ = store.ListRuns(ctx, 1)
	if len(runs) != 1 || runs[0].ID != "c" {
		t.Errorf("ListRuns(1) = %v, want [c]", ids(runs))
	}
	runs, _ = store.ListRuns(ctx, 0)
	if runs[1].ErrorCount != 3 {
		t.Errorf("replaced run error count = %d, want 3", runs[1].ErrorCount)
	}

	n, err := store.PurgeBefore(ctx, base.Add(90*time.Minute))
	if err != nil || n != 1 {
		t.Errorf("PurgeBefore() = %d, %v, want 1", n, err)
	}
	runs, _ = store.ListRuns(ctx, 0)
	if len(runs) != 1 || runs[0].ID != "c" {
		t.Errorf("after purge = %v, want [c]", ids(runs))
	}
}

func ids(runs []core.RunSummary) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

type execCall struct {
	sql  string
	args []interface{}
}

type fakeDB struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return f.tag, f.err
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return nil
}

func TestPostgresRunStore_Exec(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{tag: pgconn.NewCommandTag("DELETE 4")}
	store := NewPostgresRunStore(db)

	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS generation_runs") {
		t.Errorf("migrate sql = %q", db.calls[0].sql)
	}

	run := summary("0b4f5c7e-1111-4c4c-8888-000000000001", 0)
	run.FinishedAt = time.Time{}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	args := db.calls[1].args
	if len(args) != 14 {
		t.Fatalf("SaveRun args = %d, want 14", len(args))
	}
	if args[3] != "png" || args[4] != "completed" {
		t.Errorf("format/status args = %v, %v", args[3], args[4])
	}
	if ts, ok := args[13].(pgtype.Timestamptz); !ok || ts.Valid {
		t.Errorf("zero finished_at = %#v, want invalid timestamptz", args[13])
	}

	n, err := store.PurgeBefore(ctx, base)
	if err != nil || n != 4 {
		t.Errorf("PurgeBefore() = %d, %v, want 4", n, err)
	}

	db.err = errors.New("connection refused")
	if err := store.SaveRun(ctx, run); err == nil || !strings.Contains(err.Error(), "save run") {
		t.Errorf("SaveRun() error = %v", err)
	}
	if _, err := store.ListRuns(ctx, 5); err == nil {
		t.Error("ListRuns() should surface query error")
	}
}

// TestPostgresRunStore_Integration runs against TEST_DATABASE_URL when set.
func TestPostgresRunStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresRunStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	run := summary(uuid.NewString(), 0)
	run.SourceName = "people.csv"
	run.SuccessCount = 9
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM generation_runs WHERE id = $1", run.ID)
	})

	runs, err := store.ListRuns(ctx, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range runs {
		if r.ID == run.ID {
			if r.SuccessCount != 9 || r.SourceName != "people.csv" || !r.FinishedAt.Equal(run.FinishedAt) {
				t.Errorf("stored run = %+v", r)
			}
			return
		}
	}
	t.Errorf("run %s not listed", run.ID)
}
