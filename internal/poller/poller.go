// Package poller periodically fetches new messages from one account and
// delivers them.
package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracyhatemice/mailfetch/internal/config"
	"github.com/tracyhatemice/mailfetch/internal/dedup"
	"github.com/tracyhatemice/mailfetch/internal/message"
	"github.com/tracyhatemice/mailfetch/internal/metrics"
	"github.com/tracyhatemice/mailfetch/internal/transport"
)

const previewLen = 80

// Sink stores fetched messages.
type Sink interface {
	Deliver(raw []byte, source, uid string) error
}

// Poller monitors one account and delivers messages it has not seen yet.
type Poller struct {
	account config.Account
	sink    Sink
	tracker *dedup.Tracker
	board   *metrics.Board
	logger  *slog.Logger

	open func() (transport.Mailbox, error)
}

// Result summarises one poll.
type Result struct {
	Listed    int
	Fetched   int
	Deleted   int
	Pruned    int
	Malformed int
}

// New creates a Poller for the given account. board may be nil.
func New(
	acct config.Account,
	sink Sink,
	tracker *dedup.Tracker,
	board *metrics.Board,
	logger *slog.Logger,
) *Poller {
	p := &Poller{
		account: acct,
		sink:    sink,
		tracker: tracker,
		board:   board,
		logger:  logger.With("account", acct.Label()),
	}
	p.open = p.openMailbox
	return p
}

// Run polls the account on the configured interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("starting poller",
		"protocol", p.account.Protocol,
		"source", p.source(),
		"interval", p.account.CheckInterval(),
		"keep", p.account.KeepMessages(),
	)

	// Run immediately on start, then on interval.
	p.Poll()

	ticker := time.NewTicker(p.account.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one session against the account. Errors are logged, counted
// and reported to the board; the next tick retries.
func (p *Poller) Poll() (Result, error) {
	start := time.Now()
	label := p.account.Label()

	res, err := p.poll()

	metrics.PollDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
		p.logger.Error("poll failed", "error", err)
	}
	metrics.PollsTotal.WithLabelValues(label, result).Inc()

	if p.board != nil {
		status := metrics.AccountStatus{
			Account:  label,
			Protocol: p.account.Protocol,
			LastPoll: start,
			Fetched:  res.Fetched,
			Pending:  res.Listed - res.Fetched,
			Tracked:  p.tracker.Count(),
		}
		if err != nil {
			status.LastError = err.Error()
		}
		p.board.Report(status)
	}
	return res, err
}

func (p *Poller) poll() (Result, error) {
	var res Result
	label := p.account.Label()

	box, err := p.open()
	if err != nil {
		metrics.Errors.WithLabelValues(label, "connect").Inc()
		return res, err
	}
	defer box.Disconnect()

	infos, err := box.ListUniqueIdentifiers(0)
	if err != nil {
		metrics.Errors.WithLabelValues(label, "list").Inc()
		return res, fmt.Errorf("list unique identifiers: %w", err)
	}

	live := make([]string, 0, len(infos))
	var pending []transport.MessageInfo
	for _, info := range infos {
		live = append(live, info.UID)
		if !p.tracker.Seen(info.UID) {
			pending = append(pending, info)
		}
	}
	res.Listed = len(pending)

	if len(pending) == 0 {
		p.logger.Debug("no new messages", "total", len(infos))
	} else {
		p.logger.Info(fmt.Sprintf("found %d new message(s)", len(pending)), "total", len(infos))
	}

	for _, info := range pending {
		deleted, err := p.fetchOne(box, info, &res)
		if err != nil {
			if errors.Is(err, errSessionLost) {
				return res, err
			}
			continue
		}
		if deleted {
			res.Deleted++
		}
	}

	// Deletions commit on Disconnect; their identifiers go on the next
	// poll, when the mailbox no longer lists them.
	pruned, err := p.tracker.Prune(live)
	if err != nil {
		metrics.Errors.WithLabelValues(label, "prune").Inc()
		p.logger.Warn("pruning dedup state failed", "error", err)
	}
	res.Pruned = pruned
	return res, nil
}

var errSessionLost = errors.New("session lost")

// fetchOne fetches, inspects and delivers one message. Connection
// failures are wrapped in errSessionLost since the session is gone.
func (p *Poller) fetchOne(box transport.Mailbox, info transport.MessageInfo, res *Result) (bool, error) {
	label := p.account.Label()
	log := p.logger.With("msg", info.Num, "uid", info.UID)

	set, err := box.FetchByMessageNr(info.Num)
	var raw []byte
	if err == nil {
		raw, err = set.NextBytes()
	}
	if err != nil {
		metrics.Errors.WithLabelValues(label, "fetch").Inc()
		log.Error("fetch failed", "error", err)
		return false, sessionErr(err)
	}

	msg, perr := message.Parse(bytes.NewReader(raw))
	if perr != nil {
		res.Malformed++
		metrics.Errors.WithLabelValues(label, "parse").Inc()
		log.Warn("message does not parse, delivering raw", "error", perr)
	} else {
		log.Info("fetched", describe(msg)...)
	}

	if err := p.sink.Deliver(raw, p.source(), info.UID); err != nil {
		metrics.Errors.WithLabelValues(label, "deliver").Inc()
		log.Error("deliver failed", "error", err)
		return false, err
	}
	res.Fetched++
	metrics.MessagesFetched.WithLabelValues(label).Inc()
	metrics.BytesFetched.WithLabelValues(label).Add(float64(len(raw)))

	if err := p.tracker.MarkSeen(info.UID); err != nil {
		metrics.Errors.WithLabelValues(label, "dedup").Inc()
		log.Error("mark seen failed", "error", err)
		return false, err
	}

	if p.account.KeepMessages() {
		return false, nil
	}
	if err := box.Delete(info.Num); err != nil {
		metrics.Errors.WithLabelValues(label, "delete").Inc()
		log.Error("delete failed", "error", err)
		return false, sessionErr(err)
	}
	metrics.MessagesDeleted.WithLabelValues(label).Inc()
	return true, nil
}

func sessionErr(err error) error {
	var connErr *transport.ConnectionError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", errSessionLost, err)
	}
	return err
}

func describe(msg *message.Message) []any {
	from := ""
	if msg.From != nil {
		from = msg.From.String()
	}
	preview := strings.Join(strings.Fields(msg.PlainText()), " ")
	if r := []rune(preview); len(r) > previewLen {
		preview = string(r[:previewLen]) + "..."
	}
	return []any{
		"from", from,
		"subject", msg.Subject,
		"date", msg.Date,
		"attachments", len(msg.Attachments()),
		"preview", preview,
	}
}
