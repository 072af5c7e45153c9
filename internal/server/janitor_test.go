package server

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/Rajankarna/VIDInsight/internal/store"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(io.Discard, "", 0)
}

func TestSweepRemovesOnlyStaleOrphans(t *testing.T) {
	dir := t.TempDir()

	referenced := filepath.Join(dir, "kept.mp4")
	orphanOld := filepath.Join(dir, "orphan_old.mp4")
	orphanNew := filepath.Join(dir, "orphan_new.mp4")
	for _, p := range []string{referenced, orphanOld, orphanNew} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(orphanOld, old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(referenced, old, old); err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`SELECT video_path FROM sessions WHERE video_path <> ''`).
		WillReturnRows(sqlmock.NewRows([]string{"video_path"}).AddRow(referenced))

	j := &Janitor{Store: &store.Store{DB: db}, Dir: dir, Grace: time.Hour}
	j.logger = testLogger(t)
	if err := j.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(referenced); err != nil {
		t.Fatal("referenced file removed")
	}
	if _, err := os.Stat(orphanNew); err != nil {
		t.Fatal("orphan inside grace period removed")
	}
	if _, err := os.Stat(orphanOld); !os.IsNotExist(err) {
		t.Fatal("stale orphan not removed")
	}
}

func TestSweepStoreFailureTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, "orphan.mp4")
	if err := os.WriteFile(orphan, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`SELECT video_path FROM sessions`).
		WillReturnError(context.DeadlineExceeded)

	j := &Janitor{Store: &store.Store{DB: db}, Dir: dir, Grace: time.Hour}
	j.logger = testLogger(t)
	if err := j.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep err = nil, want failure")
	}
	if _, err := os.Stat(orphan); err != nil {
		t.Fatal("file removed although the reference listing failed")
	}
}
