package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/store"
	"github.com/spf13/pflag"
)

// sqliteMagic opens every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

func runBackup(args []string) error {
	fs := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	outputPath := fs.StringP("file", "f", "", "output file (.db.zst)")
	fs.Usage = usageFor(os.Stderr, fs, "backup -f <output.db.zst>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outputPath == "" {
		fs.Usage()
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	size, err := backupStore(context.Background(), db, *outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("Backup complete: %s\n", formatSize(size))
	return nil
}

// backupStore snapshots db into a temporary file and compresses it to
// outputPath. It returns the compressed size.
func backupStore(ctx context.Context, db *store.Store, outputPath string) (int64, error) {
	tmpDir, err := os.MkdirTemp("", "swarmhub-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if err := db.Backup(ctx, snapshot); err != nil {
		return 0, err
	}

	src, err := os.Open(snapshot)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	out := &countingWriter{w: f}
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	if _, err := io.Copy(zw, src); err != nil {
		return 0, fmt.Errorf("compress snapshot: %w", err)
	}

	// Close explicitly to catch write errors
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}

	return out.n, nil
}

// countingWriter tallies the bytes that reach w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func runRestore(args []string) error {
	fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	inputPath := fs.StringP("file", "f", "", "backup file (.db.zst)")
	target := fs.StringP("output", "o", "", "database path (default: store.path from config)")
	overwrite := fs.Bool("overwrite", false, "replace an existing database")
	fs.Usage = usageFor(os.Stderr, fs, "restore -f <backup.db.zst> [-o <path>] [--overwrite]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inputPath == "" {
		fs.Usage()
		return fmt.Errorf("missing -f flag")
	}

	if *target == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		*target = cfg.Store.Path
	}

	if err := restoreSnapshot(*inputPath, *target, *overwrite); err != nil {
		return err
	}
	fmt.Printf("Restore complete: %s\n", *target)
	return nil
}

// restoreSnapshot decompresses inputPath into target. The database is
// written next to target first and renamed into place once it checks out.
func restoreSnapshot(inputPath, target string, overwrite bool) error {
	if _, err := os.Stat(target); err == nil && !overwrite {
		return fmt.Errorf("%s already exists, add --overwrite to replace it", target)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*.db")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(zr, header); err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if !bytes.Equal(header, sqliteMagic) {
		return fmt.Errorf("%s is not a SwarmHub database backup", inputPath)
	}
	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	if _, err := io.Copy(tmp, zr); err != nil {
		return fmt.Errorf("decompress backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	// Stale WAL files would be replayed over the restored database
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(target + suffix)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move database into place: %w", err)
	}
	return nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
