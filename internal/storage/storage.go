// Package storage journals submitted transactions so pending hashes survive
// restarts and can be polled again.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

// Entry is one journaled transaction in its latest known state.
type Entry struct {
	ID        string                `json:"id"`
	Tx        model.SwapTransaction `json:"tx"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Journal records transaction updates keyed by hash. Recording the same hash
// again updates the entry and keeps its ID.
type Journal interface {
	Record(ctx context.Context, tx model.SwapTransaction) (Entry, error)
	Pending(ctx context.Context) ([]Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open picks a backend from the file extension: .db, .sqlite and .sqlite3
// use SQLite, anything else a JSONL journal.
func Open(path string) (Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return OpenJsonl(path)
	}
}

func sortPending(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Tx.SubmittedAt.Before(entries[j].Tx.SubmittedAt)
	})
}

func sortRecent(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}

func limitEntries(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
