package nonce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLedger stores consumed nonces in a single JSON file. Every mark is
// flushed with a whole-file atomic replace (write temp, fsync, rename) so a
// crash mid-write never leaves a corrupted ledger and a successful mark is
// observable after restart.
type FileLedger struct {
	mu   sync.Mutex
	path string
	used map[string]time.Time
}

var _ Ledger = (*FileLedger)(nil)

// OpenFile loads the ledger at path, creating the parent directory when
// needed. A missing file starts an empty ledger.
func OpenFile(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("nonce ledger dir: %w", err)
	}
	l := &FileLedger{path: path, used: make(map[string]time.Time)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read nonce ledger: %w", err)
	}
	raw := map[string]int64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode nonce ledger: %w", err)
	}
	for k, unix := range raw {
		l.used[k] = time.Unix(unix, 0).UTC()
	}
	return l, nil
}

func (l *FileLedger) IsUsed(ctx context.Context, payer, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.used[Key(payer, nonce)]
	return ok, nil
}

func (l *FileLedger) MarkUsed(ctx context.Context, payer, nonce string, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(payer, nonce)
	if _, ok := l.used[key]; ok {
		return ErrUsed
	}
	l.used[key] = ts.UTC()
	if err := l.persistLocked(); err != nil {
		// A mark that did not reach disk must not be observable later.
		delete(l.used, key)
		return fmt.Errorf("persist nonce: %w", err)
	}
	return nil
}

func (l *FileLedger) GC(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, ts := range l.used {
		if ts.Before(cutoff) {
			delete(l.used, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := l.persistLocked(); err != nil {
		return 0, fmt.Errorf("persist nonce gc: %w", err)
	}
	return removed, nil
}

func (l *FileLedger) persistLocked() error {
	raw := make(map[string]int64, len(l.used))
	for k, ts := range l.used {
		raw[k] = ts.Unix()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
