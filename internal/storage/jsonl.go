package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

// JsonlJournal appends every update as a JSON line and replays the file on
// open; the last line for a hash wins.
type JsonlJournal struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// OpenJsonl opens or creates a JSONL journal at path.
func OpenJsonl(path string) (*JsonlJournal, error) {
	j := &JsonlJournal{path: path, entries: make(map[string]Entry), now: time.Now}
	if err := j.replay(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *JsonlJournal) replay() error {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("parse journal line %d: %w", line, err)
		}
		j.entries[e.Tx.Hash] = e
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}

func (j *JsonlJournal) Record(_ context.Context, tx model.SwapTransaction) (Entry, error) {
	if tx.Hash == "" {
		return Entry{}, fmt.Errorf("record transaction: empty hash")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[tx.Hash]
	if !ok {
		e.ID = uuid.New().String()
	}
	e.Tx = tx
	e.UpdatedAt = j.now().UTC()

	if err := j.append(e); err != nil {
		return Entry{}, err
	}
	j.entries[tx.Hash] = e
	return e, nil
}

func (j *JsonlJournal) append(e Entry) error {
	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return file.Sync()
}

func (j *JsonlJournal) Pending(_ context.Context) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range j.entries {
		if e.Tx.Status == model.TxPending {
			out = append(out, e)
		}
	}
	sortPending(out)
	return out, nil
}

func (j *JsonlJournal) Recent(_ context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sortRecent(out)
	return limitEntries(out, limit), nil
}

// Compact rewrites the file with one line per hash.
func (j *JsonlJournal) Compact() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		entries = append(entries, e)
	}
	sortPending(entries)

	tmpPath := j.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create journal tmp: %w", err)
	}
	if err := writeEntries(file, entries); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close journal tmp: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal: %w", err)
	}
	return nil
}

func writeEntries(file *os.File, entries []Entry) error {
	writer := bufio.NewWriter(file)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write journal tmp: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write journal tmp: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal tmp: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync journal tmp: %w", err)
	}
	return nil
}

func (j *JsonlJournal) Close() error { return nil }
