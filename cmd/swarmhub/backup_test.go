package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/store"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	db, err := store.New(config.StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return db
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestStore(t, filepath.Join(dir, "live.db"))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := db.Update(ctx, func(tx swarm.Tx) error {
		return tx.InsertAgent(&swarm.Agent{
			ID: "a1", Name: "Alice", Skills: []string{"go"}, Reputation: 42,
			Available: true, KeyHash: "h1", CreatedAt: now, LastActive: now,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	archive := filepath.Join(dir, "backup.db.zst")
	size, err := backupStore(ctx, db, archive)
	db.Close()
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if size == 0 {
		t.Error("expected a non-empty archive")
	}
	info, err := os.Stat(archive)
	if err != nil {
		t.Fatalf("stat archive: %v", err)
	}
	if info.Size() != size {
		t.Errorf("reported size %d, archive is %d bytes", size, info.Size())
	}

	target := filepath.Join(dir, "restored", "swarmhub.db")
	if err := restoreSnapshot(archive, target, false); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored := openTestStore(t, target)
	defer restored.Close()
	_ = restored.View(ctx, func(tx swarm.Tx) error {
		a, err := tx.AgentByName("alice")
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if a == nil || a.Reputation != 42 {
			t.Errorf("expected restored Alice with reputation 42, got %+v", a)
		}
		return nil
	})
}

func TestBackupUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	db := openTestStore(t, filepath.Join(dir, "live.db"))
	defer db.Close()

	size, err := backupStore(context.Background(), db, filepath.Join(dir, "missing", "backup.db.zst"))
	if err == nil {
		t.Fatal("expected an error for an unwritable output path")
	}
	if size != 0 {
		t.Errorf("size = %d, want 0 on failure", size)
	}
}

func TestRestoreRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	archive := writeArchive(t, dir, append(append([]byte{}, sqliteMagic...), make([]byte, 84)...))

	target := filepath.Join(dir, "existing.db")
	if err := os.WriteFile(target, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := restoreSnapshot(archive, target, false)
	if err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Fatalf("expected overwrite error, got %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "keep me" {
		t.Error("existing database was modified")
	}

	if err := restoreSnapshot(archive, target, true); err != nil {
		t.Fatalf("restore with overwrite: %v", err)
	}
	data, _ = os.ReadFile(target)
	if !bytes.HasPrefix(data, sqliteMagic) {
		t.Error("expected the snapshot to replace the target")
	}
}

func TestRestoreRejectsNonDatabase(t *testing.T) {
	dir := t.TempDir()
	archive := writeArchive(t, dir, []byte("definitely not a database file"))
	target := filepath.Join(dir, "out.db")

	if err := restoreSnapshot(archive, target, false); err == nil {
		t.Fatal("expected an error for a non-database payload")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target should not exist after a failed restore, stat err = %v", err)
	}
}

func TestRestoreInvalidZstd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.db.zst")
	if err := os.WriteFile(path, []byte("not zstd data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := restoreSnapshot(path, filepath.Join(dir, "out.db"), false); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
}

func TestRestoreMissingFile(t *testing.T) {
	if err := restoreSnapshot("/nonexistent/backup.db.zst", filepath.Join(t.TempDir(), "out.db"), false); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

// writeArchive compresses payload into a .db.zst file under dir.
func writeArchive(t *testing.T, dir string, payload []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "archive.db.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
