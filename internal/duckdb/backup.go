package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

const snapshotPrefix = "hpcjob-"

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// Snapshot writes a timestamped copy of the database into dir and removes
// all but the newest keep snapshots there. keep <= 0 keeps every snapshot.
// It returns the path of the new snapshot.
func (s *Store) Snapshot(dir string, keep int) (string, error) {
	name := fmt.Sprintf("%s%s.duckdb", snapshotPrefix, time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := s.SnapshotTo(path); err != nil {
		return "", err
	}
	if err := pruneSnapshots(dir, keep); err != nil {
		return path, fmt.Errorf("duckdb: prune snapshots: %w", err)
	}
	s.Logger.Infof("duckdb: wrote snapshot %s", path)
	return path, nil
}

// SnapshotTo checkpoints the on-disk database and copies it to dstPath.
// CHECKPOINT runs under the store write lock; the copy happens outside it.
func (s *Store) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	s.mu.Lock()
	dbPath := s.dbPath
	if dbPath == "" {
		s.mu.Unlock()
		return ErrInMemoryStore
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("checkpoint: %w", err)
	}
	s.mu.Unlock()

	if err := copyFile(dbPath, dstPath); err != nil {
		return fmt.Errorf("copy duckdb file: %w", err)
	}
	return nil
}

func pruneSnapshots(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*.duckdb"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keep:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
