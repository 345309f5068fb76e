package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/emersion/go-maildir"
)

// Maildir is a Mailbox over a maildir. Opening it moves new/ messages to
// cur/. The unique identifier of a message is its maildir key.
type Maildir struct {
	*local
}

// OpenMaildir takes a snapshot of the maildir at path, ordered by key.
func OpenMaildir(path string, logger *slog.Logger) (*Maildir, error) {
	dir := maildir.Dir(path)
	if _, err := dir.Unseen(); err != nil {
		return nil, fmt.Errorf("open maildir %s: %w", path, err)
	}
	msgs, err := dir.Messages()
	if err != nil {
		return nil, fmt.Errorf("open maildir %s: %w", path, err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Key() < msgs[j].Key() })

	entries := make([]localEntry, 0, len(msgs))
	kept := make([]*maildir.Message, 0, len(msgs))
	for _, msg := range msgs {
		fi, err := os.Stat(msg.Filename())
		if err != nil {
			logger.Warn("skipping unreadable maildir message", "path", path, "key", msg.Key(), "error", err)
			continue
		}
		kept = append(kept, msg)
		entries = append(entries, localEntry{
			info: MessageInfo{
				Num:  len(entries) + 1,
				Size: fi.Size(),
				UID:  msg.Key(),
			},
			load: func() ([]byte, error) {
				rc, err := msg.Open()
				if err != nil {
					return nil, err
				}
				defer rc.Close()
				return io.ReadAll(rc)
			},
		})
	}

	commit := func(nums []int) error {
		var errs []error
		for _, num := range nums {
			if err := kept[num-1].Remove(); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	logger.Debug("maildir opened", "path", path, "messages", len(entries))
	return &Maildir{local: newLocal("maildir", path, entries, commit, logger)}, nil
}

var _ Mailbox = (*Maildir)(nil)
