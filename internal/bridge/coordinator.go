// Package bridge pushes synthesized reports to the Care Bridge platform
// and monitors the responses store for an asynchronous specialist reply.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"carebridge-intake/internal/session"
	"carebridge-intake/pkg"
)

// Status is the coordinator's submission/polling state.  Responded and
// TimedOut are terminal.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	// StatusSubmitted means the push succeeded but no monitoring is
	// running (no responses store configured).
	StatusSubmitted Status = "submitted"
	StatusPolling   Status = "polling"
	StatusResponded Status = "responded"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// ResponseSource is the keyed lookup store holding specialist replies.
// internal/db provides the Postgres implementation.
type ResponseSource interface {
	FindByReportID(ctx context.Context, reportID string) ([]pkg.SpecialistReply, error)
}

const (
	pushTimeout         = 10 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 120 // ~10 minutes at the default interval
)

// Coordinator owns the submission state for one session: it serializes the
// report, performs the single POST to the platform, and runs at most one
// background polling loop against the responses store.  The loop is the
// sole writer of the specialist reply and the terminal state transition;
// everything else only reads.
type Coordinator struct {
	baseURL string
	client  *http.Client
	source  ResponseSource // nil disables polling

	pollInterval time.Duration
	maxAttempts  int

	mu       sync.Mutex
	status   Status
	reportID string
	reply    *pkg.SpecialistReply
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCoordinator constructs a coordinator for one session.  A nil source
// disables background monitoring: reports can still be pushed but no
// polling loop will start.  interval and maxAttempts fall back to the
// defaults (5s, 120 attempts) when zero.
func NewCoordinator(baseURL string, source ResponseSource, interval time.Duration, maxAttempts int) *Coordinator {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Coordinator{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: pushTimeout},
		source:       source,
		pollInterval: interval,
		maxAttempts:  maxAttempts,
		status:       StatusIdle,
	}
}

// Status returns the current submission/polling state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReportID returns the server-assigned report identifier, or "" before a
// successful push.
func (c *Coordinator) ReportID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportID
}

// Push serializes the session's report and POSTs it to the platform.  On a
// 201 response the server-assigned identifier is stored and polling starts.
// Any transport failure or non-created status is returned as a
// human-readable message with the state left unchanged; pushes are never
// retried automatically.
func (c *Coordinator) Push(ctx context.Context, sess *session.Session) (bool, string) {
	if !sess.Onboarded() {
		return false, "Please complete the initial assessment form first."
	}
	if len(sess.History()) == 0 {
		return false, "Please have a conversation first before pushing a report."
	}

	child := sess.Child()
	payload := pkg.ReportPayload{
		ChildInfo: pkg.ReportChildInfo{
			Age:      child.Age,
			Gender:   strings.ToLower(string(child.Gender)),
			Location: child.Location,
		},
		AssessmentData:   sess.Assessment(),
		MediaAttachments: sess.Media(),
		MobileAppID:      sess.ID().String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Sprintf("Failed to serialize report: %v", err)
	}

	// A re-push supersedes any monitoring still running for the previous
	// report identifier; stop it before touching shared state so at most
	// one loop ever exists.
	c.stopPolling()

	c.mu.Lock()
	c.status = StatusSubmitting
	c.mu.Unlock()

	fail := func(msg string) (bool, string) {
		c.mu.Lock()
		c.status = StatusIdle
		c.mu.Unlock()
		return false, msg
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reports", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Sprintf("Failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fail("Could not connect to the Care Bridge platform: " + err.Error())
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusCreated {
		return fail(fmt.Sprintf("Platform rejected report: %d - %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil || created.ID == "" {
		return fail("Platform returned an unreadable report identifier")
	}

	c.mu.Lock()
	c.reportID = created.ID
	c.mu.Unlock()
	slog.Info("report pushed to Care Bridge", "report_id", created.ID)

	c.StartPolling()
	c.mu.Lock()
	monitoring := c.status == StatusPolling
	if c.status == StatusSubmitting {
		c.status = StatusSubmitted
	}
	c.mu.Unlock()
	if !monitoring {
		return true, fmt.Sprintf("Report successfully pushed to the Care Bridge platform. Report ID: %s.", created.ID)
	}
	return true, fmt.Sprintf("Report successfully pushed to the Care Bridge platform. Report ID: %s. Now monitoring for a specialist response.", created.ID)
}

// StartPolling launches the background polling loop.  It is an idempotent
// no-op when polling is already active, when no report identifier has been
// stored yet, or when no response source is configured.
func (c *Coordinator) StartPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		slog.Warn("cannot start polling: no responses store configured")
		return
	}
	if c.reportID == "" {
		slog.Warn("cannot start polling: no report identifier stored")
		return
	}
	if c.loopAliveLocked() {
		slog.Info("polling already active", "report_id", c.reportID)
		return
	}
	c.status = StatusPolling
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	slog.Info("starting background polling", "report_id", c.reportID, "interval", c.pollInterval, "max_attempts", c.maxAttempts)
	go c.poll(ctx, c.reportID, c.done)
}

// loopAliveLocked reports whether a polling loop is still running.  The
// done channel, not the status string, is the liveness signal: status is
// rewritten on a re-push while the old loop may still be draining.
// Callers must hold c.mu.
func (c *Coordinator) loopAliveLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// stopPolling cancels a live polling loop and waits for it to exit.  A
// no-op when no loop is running.
func (c *Coordinator) stopPolling() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	alive := c.loopAliveLocked()
	c.mu.Unlock()
	if !alive {
		return
	}
	cancel()
	<-done
}

// poll queries the responses store until a reply arrives, the attempt
// budget is exhausted, or the context is cancelled.  Transient query errors
// are logged and consume an attempt exactly like an empty result.  State
// writes are guarded by the loop's own done channel so a loop superseded
// by a re-push cannot clobber its successor's state.
func (c *Coordinator) poll(ctx context.Context, reportID string, done chan struct{}) {
	defer close(done)
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		replies, err := c.source.FindByReportID(ctx, reportID)
		if err != nil {
			slog.Warn("polling query failed", "report_id", reportID, "attempt", attempt+1, "error", err)
		} else if len(replies) > 0 {
			reply := replies[0]
			c.mu.Lock()
			if c.done == done {
				c.reply = &reply
				c.status = StatusResponded
			}
			c.mu.Unlock()
			slog.Info("specialist response received", "report_id", reportID, "specialist_id", reply.SpecialistID)
			return
		}

		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.done == done {
				c.status = StatusCancelled
			}
			c.mu.Unlock()
			slog.Info("polling cancelled", "report_id", reportID)
			return
		case <-time.After(c.pollInterval):
		}
	}
	c.mu.Lock()
	if c.done == done {
		c.status = StatusTimedOut
	}
	c.mu.Unlock()
	slog.Info("polling timed out without a specialist response", "report_id", reportID)
}

// Cancel requests cooperative cancellation of the polling loop.  The loop
// observes it at its next wait cycle.  Cancelling when no loop is active is
// a no-op.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// GetReply returns the formatted specialist response once one has been
// stored, and (false, "") before that.  The caller distinguishes
// still-polling, timed-out and never-submitted via Status and ReportID.
func (c *Coordinator) GetReply() (bool, string) {
	c.mu.Lock()
	reply := c.reply
	c.mu.Unlock()
	if reply == nil {
		return false, ""
	}
	return true, formatReply(reply)
}
