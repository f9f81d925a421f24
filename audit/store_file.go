// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore appends audit records to a JSONL file, one record per line.
// Writes are serialized by a mutex so concurrent requests never interleave
// half-written lines. Used as the default store when no audit database is
// configured, and kept deliberately simple: the file is the durable,
// ordered log.
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileStore opens (or creates) the JSONL file in append-only mode.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileStore{path: path, file: file}, nil
}

// Record appends one audit entry as a JSON line.
func (s *FileStore) Record(ctx context.Context, rec *Record) error {
	normalize(rec)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// List reads the file back and returns the most recent records, newest
// first, up to limit.
func (s *FileStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var all []*Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip corrupt lines rather than failing the listing
		}
		all = append(all, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	// Newest first.
	var out []*Record
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
