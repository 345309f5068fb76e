package transport

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/emersion/go-imap/utf7"
	"github.com/emersion/go-mbox"
	"lukechampine.com/blake3"
)

// Mbox is a read-only Mailbox over an mbox file. Unique identifiers are
// content hashes, so the same message keeps its identifier when the file
// is rewritten around it. Byte-identical copies are told apart by their
// order: the second copy gets the suffix "-2", the third "-3" and so on.
type Mbox struct {
	*local
}

// OpenMbox reads the mbox file at path into a snapshot.
func OpenMbox(path string, logger *slog.Logger) (*Mbox, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox %s: %w", path, err)
	}
	defer f.Close()

	var entries []localEntry
	copies := make(map[string]int)
	reader := mbox.NewReader(f)
	for {
		r, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mbox %s: %w", path, err)
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read mbox %s: %w", path, err)
		}
		sum := blake3.Sum256(raw)
		uid := hex.EncodeToString(sum[:16])
		copies[uid]++
		if n := copies[uid]; n > 1 {
			uid = fmt.Sprintf("%s-%d", uid, n)
		}
		entries = append(entries, localEntry{
			info: MessageInfo{
				Num:  len(entries) + 1,
				Size: int64(len(raw)),
				UID:  uid,
			},
			load: func() ([]byte, error) { return raw, nil },
		})
	}

	logger.Debug("mbox opened", "path", path, "messages", len(entries))
	return &Mbox{local: newLocal("mbox", path, entries, nil, logger)}, nil
}

// MboxFolders lists the mbox files in dir by their decoded folder names.
// File names are stored in modified UTF-7, as IMAP mailbox names are.
func MboxFolders(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list mbox folders %s: %w", dir, err)
	}
	var names []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name, err := utf7.Encoding.NewDecoder().String(file.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// OpenMboxFolder opens the mbox file for folder name inside dir.
func OpenMboxFolder(dir, name string, logger *slog.Logger) (*Mbox, error) {
	encoded, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return nil, fmt.Errorf("encode folder name %q: %w", name, err)
	}
	return OpenMbox(filepath.Join(dir, encoded), logger)
}

var _ Mailbox = (*Mbox)(nil)
