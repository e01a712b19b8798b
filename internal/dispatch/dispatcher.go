// Package dispatch turns Gmail push notifications into at-most-one agent
// run per inbound message. It owns the eligibility filter, the dedup
// ledger, the retry policy for external calls, and the bounded worker
// pool; mail access and the agent itself are injected as interfaces.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Notification is one decoded Gmail push event: the watched account and
// an opaque history cursor to resolve changed messages from.
type Notification struct {
	EmailAddress string
	HistoryID    string
}

// Mailbox is the mail-provider surface the dispatcher consumes. Accessor
// methods fetch fresh state per call; implementations may cache. All
// methods may fail transiently — the dispatcher wraps every call in its
// retry policy.
type Mailbox interface {
	// History returns the ids of messages added after the given cursor.
	History(ctx context.Context, startCursor string) ([]string, error)
	// ListUnread returns up to max recent unread message ids.
	ListUnread(ctx context.Context, max int64) ([]string, error)

	Sender(ctx context.Context, id string) (string, error)
	Recipient(ctx context.Context, id string) (string, error)
	Subject(ctx context.Context, id string) (string, error)
	Body(ctx context.Context, id string) (string, error)
	ThreadID(ctx context.Context, id string) (string, error)
	ReceivedAt(ctx context.Context, id string) (time.Time, error)

	// SendReply sends a threaded reply and returns the sent message id.
	SendReply(ctx context.Context, threadID, to, subject, body string) (string, error)
	// IsTransient classifies an error from any of the above.
	IsTransient(err error) bool
}

// Agent runs one long task and streams intermediate output through
// onProgress before returning the final response text.
type Agent interface {
	Run(ctx context.Context, prompt, sender string, onProgress func(chunk string)) (string, error)
}

// Reply bodies and the progress throttle. Every third progress chunk
// longer than the threshold becomes a reply; shorter or off-cadence
// chunks are dropped to avoid flooding the thread.
const (
	ackBody        = "ack"
	completedBody  = "Task completed!\n\n"
	failedBody     = "Claude processing failed with error: "
	progressPrefix = "Progress update:\n\n"

	progressCadence  = 3
	progressMinChars = 50
)

// OutcomeKind is the terminal state of one candidate message.
type OutcomeKind int

const (
	OutcomeSkipped OutcomeKind = iota
	OutcomeAgentSucceeded
	OutcomeAgentFailed
)

// Outcome records how a candidate's lifecycle ended. Reason is set for
// skips, Response for successes, Err for agent failures.
type Outcome struct {
	Kind     OutcomeKind
	Reason   string
	Response string
	Err      error
}

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Options tunes a Dispatcher. Zero values fall back to the defaults the
// config package also carries.
type Options struct {
	Workers             int
	Retry               RetryPolicy
	UnreadFallbackLimit int64
	// Epoch is the staleness boundary: messages received before it are
	// skipped. Zero means time.Now at construction.
	Epoch time.Time
}

// Dispatcher coordinates the full notification lifecycle. Process is safe
// for concurrent use; total concurrency is bounded by the worker
// semaphore regardless of how many receivers feed it.
type Dispatcher struct {
	mailbox     Mailbox
	agent       Agent
	ledger      *Ledger
	retry       RetryPolicy
	epoch       time.Time
	unreadLimit int64
	sem         *semaphore.Weighted

	filterMu sync.RWMutex
	filter   Filter
}

// New builds a Dispatcher around a mailbox and an agent.
func New(mailbox Mailbox, agent Agent, filter Filter, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	unread := opts.UnreadFallbackLimit
	if unread <= 0 {
		unread = 5
	}
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = time.Now()
	}
	retry := opts.Retry
	if retry.Transient == nil {
		retry.Transient = mailbox.IsTransient
	}
	return &Dispatcher{
		mailbox:     mailbox,
		agent:       agent,
		filter:      filter,
		ledger:      NewLedger(),
		retry:       retry,
		epoch:       epoch,
		unreadLimit: unread,
		sem:         semaphore.NewWeighted(int64(workers)),
	}
}

// UpdateFilter swaps the eligibility filter. Called on config reload;
// in-flight candidates keep the filter they started with.
func (d *Dispatcher) UpdateFilter(f Filter) {
	d.filterMu.Lock()
	d.filter = f
	d.filterMu.Unlock()
}

func (d *Dispatcher) currentFilter() Filter {
	d.filterMu.RLock()
	defer d.filterMu.RUnlock()
	return d.filter
}

// Ledger exposes the dedup ledger for status reporting.
func (d *Dispatcher) Ledger() *Ledger { return d.ledger }

// Process handles one notification end to end: claim the cursor, resolve
// candidate messages, and run each through the gate chain. It blocks
// until a worker slot is free. A non-nil error means the notification
// should be redelivered (nack); nil means it is settled (ack), including
// the duplicate and no-candidates cases.
func (d *Dispatcher) Process(ctx context.Context, n Notification) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	log := slog.With("run_id", shortID(), "history_id", n.HistoryID)
	d.ledger.MaybeCompact()

	if n.HistoryID == "" {
		log.Warn("notification missing history id, dropping")
		return nil
	}
	if !d.ledger.ClaimCursor(n.HistoryID) {
		log.Debug("duplicate notification, already dispatched")
		return nil
	}

	ids, err := d.resolveCandidates(ctx, n.HistoryID, log)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.Debug("no candidate messages for notification")
		return nil
	}

	log.Info("processing notification", "candidates", len(ids))
	for _, id := range ids {
		out := d.processCandidate(ctx, id, log.With("message_id", id))
		logOutcome(log.With("message_id", id), out)
	}
	return nil
}

// ProcessMessage runs a single known message id through the full gate
// chain, bypassing notification resolution. Used by the manual process
// command.
func (d *Dispatcher) ProcessMessage(ctx context.Context, id string) (Outcome, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, err
	}
	defer d.sem.Release(1)

	log := slog.With("run_id", shortID(), "message_id", id)
	out := d.processCandidate(ctx, id, log)
	logOutcome(log, out)
	return out, nil
}

// resolveCandidates turns a history cursor into message ids. The history
// call often returns nothing useful — Gmail's cursor races its own
// notifications — so an empty or failed lookup falls back to a bounded
// unread query. Only an unavailable fallback fails the notification.
func (d *Dispatcher) resolveCandidates(ctx context.Context, cursor string, log *slog.Logger) ([]string, error) {
	ids, err := Do(ctx, d.retry, "gmail history list", func(ctx context.Context) ([]string, error) {
		return d.mailbox.History(ctx, cursor)
	})
	if err == nil && len(ids) > 0 {
		return ids, nil
	}
	if err != nil {
		log.Warn("history lookup failed, falling back to unread query", "error", err)
	} else {
		log.Debug("history empty, falling back to unread query")
	}

	ids, err = Do(ctx, d.retry, "gmail unread list", func(ctx context.Context) ([]string, error) {
		return d.mailbox.ListUnread(ctx, d.unreadLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}
	return ids, nil
}

// processCandidate runs one message id through the gate chain and, if
// every gate passes, through the agent. Gates are ordered cheapest first;
// the authoritative message claim sits after all read-only gates and
// before the first side effect. All reply sends are best-effort: a lost
// reply never fails the candidate.
func (d *Dispatcher) processCandidate(ctx context.Context, id string, log *slog.Logger) Outcome {
	if d.ledger.SeenMessage(id) {
		return skipped("message already processed")
	}

	receivedAt, err := d.fetchTime(ctx, "gmail message date", id, d.mailbox.ReceivedAt)
	if err != nil {
		return skipped("could not resolve receipt time: " + err.Error())
	}
	if receivedAt.Before(d.epoch) {
		return skipped("message predates this run")
	}

	f := d.currentFilter()
	sender, err := d.fetchStr(ctx, "gmail message sender", id, d.mailbox.Sender)
	if err != nil {
		return skipped("could not resolve sender: " + err.Error())
	}
	recipient, err := d.fetchStr(ctx, "gmail message recipient", id, d.mailbox.Recipient)
	if err != nil {
		return skipped("could not resolve recipient: " + err.Error())
	}
	subject, err := d.fetchStr(ctx, "gmail message subject", id, d.mailbox.Subject)
	if err != nil {
		return skipped("could not resolve subject: " + err.Error())
	}
	if ok, reason := f.Eligible(sender, recipient, subject); !ok {
		return skipped(reason)
	}

	if d.ledger.SeenSent(id) {
		return skipped("message is a reply this process sent")
	}

	body, err := d.fetchStr(ctx, "gmail message body", id, d.mailbox.Body)
	if err != nil {
		return skipped("could not resolve body: " + err.Error())
	}
	if ok, reason := f.BodyEligible(body); !ok {
		return skipped(reason)
	}

	// Authoritative claim: everything before this point was read-only, so
	// losing the race here costs nothing. Winning it guarantees the agent
	// runs at most once for this message.
	if !d.ledger.ClaimMessage(id) {
		return skipped("claimed by a concurrent notification")
	}

	// Thread id failures are tolerated: the agent still runs, replies are
	// just impossible.
	threadID, err := d.fetchStr(ctx, "gmail message thread", id, d.mailbox.ThreadID)
	if err != nil {
		log.Warn("could not resolve thread id, replies disabled", "error", err)
		threadID = ""
	}

	d.sendReply(ctx, threadID, sender, subject, ackBody, log, "ack")
	return d.runAgent(ctx, threadID, sender, subject, body, log)
}

// runAgent invokes the agent with the message body and relays throttled
// progress chunks plus the terminal reply back into the thread.
func (d *Dispatcher) runAgent(ctx context.Context, threadID, sender, subject, body string, log *slog.Logger) Outcome {
	log.Info("dispatching to claude", "body_chars", len(body))

	var progressCount int
	onProgress := func(chunk string) {
		progressCount++
		if threadID == "" || len(chunk) <= progressMinChars {
			return
		}
		if progressCount%progressCadence != 0 {
			return
		}
		d.sendReply(ctx, threadID, sender, subject, progressPrefix+chunk, log, "progress")
	}

	response, err := d.agent.Run(ctx, body, sender, onProgress)
	if err != nil {
		log.Error("claude run failed", "error", err)
		d.sendReply(ctx, threadID, sender, subject, failedBody+err.Error(), log, "failure")
		return Outcome{Kind: OutcomeAgentFailed, Err: err}
	}

	if strings.TrimSpace(response) != "" {
		d.sendReply(ctx, threadID, sender, subject, completedBody+response, log, "completion")
	}
	return Outcome{Kind: OutcomeAgentSucceeded, Response: response}
}

// sendReply sends a threaded reply under the retry policy and records the
// sent id in the ledger. Failures are logged and swallowed.
func (d *Dispatcher) sendReply(ctx context.Context, threadID, to, subject, body string, log *slog.Logger, kind string) {
	if threadID == "" {
		return
	}
	sentID, err := Do(ctx, d.retry, "gmail send reply", func(ctx context.Context) (string, error) {
		return d.mailbox.SendReply(ctx, threadID, to, subject, body)
	})
	if err != nil {
		log.Warn("reply not sent", "kind", kind, "error", err)
		return
	}
	if sentID != "" {
		d.ledger.RecordSent(sentID)
	}
	log.Debug("reply sent", "kind", kind, "sent_id", sentID)
}

func (d *Dispatcher) fetchStr(ctx context.Context, name, id string, get func(context.Context, string) (string, error)) (string, error) {
	return Do(ctx, d.retry, name, func(ctx context.Context) (string, error) {
		return get(ctx, id)
	})
}

func (d *Dispatcher) fetchTime(ctx context.Context, name, id string, get func(context.Context, string) (time.Time, error)) (time.Time, error) {
	return Do(ctx, d.retry, name, func(ctx context.Context) (time.Time, error) {
		return get(ctx, id)
	})
}

func logOutcome(log *slog.Logger, out Outcome) {
	switch out.Kind {
	case OutcomeSkipped:
		log.Debug("message skipped", "reason", out.Reason)
	case OutcomeAgentSucceeded:
		log.Info("message processed", "response_chars", len(out.Response))
	case OutcomeAgentFailed:
		log.Error("message processing failed", "error", out.Err)
	}
}

// shortID returns a compact per-notification correlation id for logs.
func shortID() string {
	return uuid.NewString()[:8]
}
