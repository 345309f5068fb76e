// Package dedup remembers which messages of a mailbox were already fetched.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Tracker holds the unique identifiers fetched from one mailbox.
// Identifiers are appended to a file so they survive restarts; Prune
// rewrites the file to drop identifiers the mailbox no longer reports.
type Tracker struct {
	mu   sync.Mutex
	uids map[string]struct{}
	file string
}

// NewTracker loads (or creates) a tracker backed by filePath.
func NewTracker(filePath string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}

	t := &Tracker{
		uids: make(map[string]struct{}),
		file: filePath,
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("open dedup file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if uid := strings.TrimSpace(scanner.Text()); uid != "" {
			t.uids[uid] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dedup file: %w", err)
	}
	return t, nil
}

// Seen reports whether uid was marked.
func (t *Tracker) Seen(uid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.uids[uid]
	return ok
}

// MarkSeen records uid and appends it to the file.
func (t *Tracker) MarkSeen(uid string) error {
	if uid == "" || strings.ContainsAny(uid, "\r\n") {
		return fmt.Errorf("invalid unique identifier %q", uid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.uids[uid]; exists {
		return nil
	}

	f, err := os.OpenFile(t.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dedup file for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, uid); err != nil {
		return fmt.Errorf("write dedup uid: %w", err)
	}
	t.uids[uid] = struct{}{}
	return nil
}

// Prune forgets every identifier not in live and returns how many were
// dropped. The file is replaced atomically.
func (t *Tracker) Prune(live []string) (int, error) {
	keep := make(map[string]struct{}, len(live))
	for _, uid := range live {
		keep[uid] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []string
	for uid := range t.uids {
		if _, ok := keep[uid]; ok {
			kept = append(kept, uid)
		}
	}
	dropped := len(t.uids) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.file), filepath.Base(t.file)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create dedup temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, uid := range kept {
		fmt.Fprintln(w, uid)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write dedup temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close dedup temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.file); err != nil {
		return 0, fmt.Errorf("replace dedup file: %w", err)
	}

	uids := make(map[string]struct{}, len(kept))
	for _, uid := range kept {
		uids[uid] = struct{}{}
	}
	t.uids = uids
	return dropped, nil
}

// Count returns the number of tracked identifiers.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uids)
}
