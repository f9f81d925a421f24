// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreAppendAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, &Record{Query: "first", Mode: "explain", Outcome: OutcomePlanned}))
	require.NoError(t, store.Record(ctx, &Record{Query: "second", Mode: "preview", Outcome: OutcomeExecuted, RowCount: 3}))

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].Query, "newest first")
	assert.Equal(t, "first", records[1].Query)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestFileStoreIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, &Record{Query: "one", Outcome: OutcomeExecuted}))
	require.NoError(t, store.Close())

	// Reopening must preserve prior entries.
	store, err = NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Record(ctx, &Record{Query: "two", Outcome: OutcomeBlocked}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Record(context.Background(), &Record{Query: "concurrent", Outcome: OutcomeExecuted})
		}()
	}
	wg.Wait()

	records, err := store.List(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, records, 20, "no interleaved or lost lines")
}

func TestFileStoreListLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(context.Background(), &Record{Query: "q", Outcome: OutcomeExecuted}))
	}
	records, err := store.List(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
