package transport

import (
	"log/slog"
)

type localEntry struct {
	info MessageInfo
	load func() ([]byte, error)
}

// local is a Mailbox over an on-disk snapshot. It is Authenticated from
// creation until Disconnect.
type local struct {
	kind   string
	path   string
	logger *slog.Logger

	entries []localEntry
	deleted map[int]bool
	open    bool

	// commit removes the given messages; nil means read-only.
	commit func(nums []int) error
}

func newLocal(kind, path string, entries []localEntry, commit func([]int) error, logger *slog.Logger) *local {
	return &local{
		kind:    kind,
		path:    path,
		logger:  logger,
		entries: entries,
		deleted: make(map[int]bool),
		open:    true,
		commit:  commit,
	}
}

func (l *local) require(op string) error {
	if !l.open {
		return &StateError{Op: op, State: Disconnected}
	}
	return nil
}

func (l *local) requireNum(op string, num int) error {
	if err := l.require(op); err != nil {
		return err
	}
	return checkNum(num, len(l.entries))
}

func (l *local) visible() []MessageInfo {
	out := make([]MessageInfo, 0, len(l.entries))
	for _, e := range l.entries {
		if !l.deleted[e.info.Num] {
			out = append(out, e.info)
		}
	}
	return out
}

func (l *local) Status() (int, int64, error) {
	if err := l.require("status"); err != nil {
		return 0, 0, err
	}
	infos := l.visible()
	var size int64
	for _, info := range infos {
		size += info.Size
	}
	return len(infos), size, nil
}

func (l *local) List() ([]MessageInfo, error) {
	if err := l.require("list"); err != nil {
		return nil, err
	}
	infos := l.visible()
	for i := range infos {
		infos[i].UID = ""
	}
	return infos, nil
}

func (l *local) ListMessage(num int) (int64, error) {
	if err := l.requireNum("list", num); err != nil {
		return 0, err
	}
	return l.entries[num-1].info.Size, nil
}

func (l *local) fetch(num int) ([]byte, error) {
	if err := l.requireNum("fetch", num); err != nil {
		return nil, err
	}
	raw, err := l.entries[num-1].load()
	if err != nil {
		return nil, &ServerError{Op: "fetch", Reply: err.Error()}
	}
	return raw, nil
}

func (l *local) FetchByMessageNr(num int) (*Set, error) {
	if err := l.requireNum("fetch", num); err != nil {
		return nil, err
	}
	return newSet([]int{num}, l.fetch, nil), nil
}

func (l *local) FetchFromOffset(offset, count int) (*Set, error) {
	if err := l.require("fetch"); err != nil {
		return nil, err
	}
	nums, err := subset(numbers(l.visible()), offset, count)
	if err != nil {
		return nil, err
	}
	return newSet(nums, l.fetch, nil), nil
}

func (l *local) FetchAll(deleteFromServer bool) (*Set, error) {
	if err := l.require("fetch"); err != nil {
		return nil, err
	}
	var remove func(int) error
	if deleteFromServer {
		remove = l.Delete
	}
	return newSet(numbers(l.visible()), l.fetch, remove), nil
}

func (l *local) Top(num, lines int) ([]byte, error) {
	if err := l.requireNum("top", num); err != nil {
		return nil, err
	}
	if lines < 0 {
		return nil, &InvalidLimitError{Offset: num, Count: lines}
	}
	raw, err := l.fetch(num)
	if err != nil {
		return nil, err
	}
	return top(raw, lines), nil
}

func (l *local) Delete(num int) error {
	if err := l.requireNum("delete", num); err != nil {
		return err
	}
	if l.commit == nil {
		return &ServerError{Op: "delete", Reply: l.kind + " mailbox is read-only"}
	}
	l.deleted[num] = true
	return nil
}

func (l *local) ListUniqueIdentifiers(num int) ([]MessageInfo, error) {
	if num != 0 {
		if err := l.requireNum("uid", num); err != nil {
			return nil, err
		}
		info := l.entries[num-1].info
		return []MessageInfo{{Num: info.Num, UID: info.UID}}, nil
	}
	if err := l.require("uid"); err != nil {
		return nil, err
	}
	infos := l.visible()
	for i := range infos {
		infos[i].Size = 0
	}
	return infos, nil
}

// Disconnect commits staged deletions and closes the snapshot.
func (l *local) Disconnect() {
	if !l.open {
		return
	}
	l.open = false
	if l.commit == nil || len(l.deleted) == 0 {
		return
	}
	nums := make([]int, 0, len(l.deleted))
	for _, e := range l.entries {
		if l.deleted[e.info.Num] {
			nums = append(nums, e.info.Num)
		}
	}
	if err := l.commit(nums); err != nil {
		l.logger.Warn("committing deletions failed", "kind", l.kind, "path", l.path, "error", err)
		return
	}
	l.logger.Debug("deletions committed", "kind", l.kind, "path", l.path, "count", len(nums))
}
