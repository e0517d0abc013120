// Package bridge turns the fire-and-forget bus into a synchronous call: a
// requester publishes a correlated request event and blocks until the reply
// arrives or the deadline passes, so callers without database access can
// fetch records from the owning service as if they made a normal call.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	envelopepkg "github.com/hrmesh/hrmesh/internal/runtime/envelope"
	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	idspkg "github.com/hrmesh/hrmesh/internal/runtime/ids"
	"github.com/hrmesh/hrmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	metricspkg "github.com/hrmesh/hrmesh/internal/runtime/metrics"
)

// DefaultTimeout bounds a Fetch when neither the config nor the call
// provides a deadline.
const DefaultTimeout = 10 * time.Second

// ExtensionError is the envelope extension a responder sets when the
// handler failed instead of producing data.
const ExtensionError = "error"

// FetchRequest is the request payload: the record ids the caller needs.
type FetchRequest struct {
	IDs []string `json:"ids"`
}

// Config tunes a Bridge.
type Config struct {
	// RequestTopic carries request events to the owning service.
	RequestTopic string
	// ResponseTopic carries correlated replies back.
	ResponseTopic string
	// Source is stamped on outgoing envelopes as the producing service.
	Source string
	// Timeout is the default per-Fetch deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

type pendingResult struct {
	event envelopepkg.Event
	err   error
}

type pendingRequest struct {
	ch chan pendingResult
}

// Bridge correlates request events with their replies. Safe for concurrent
// use by many callers plus the single reply consumer.
type Bridge struct {
	cfg       Config
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	metrics   *metricspkg.Metrics

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

// New constructs a Bridge publishing on the given publisher. Wire
// HandleReply as the consumer of cfg.ResponseTopic before calling Fetch.
func New(cfg Config, publisher message.Publisher, logger loggingpkg.ServiceLogger, m *metricspkg.Metrics) (*Bridge, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.RequestTopic == "" || cfg.ResponseTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if m == nil {
		m = metricspkg.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bridge{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		pending:   make(map[string]*pendingRequest),
	}, nil
}

// Fetch publishes a correlated request for the given ids and blocks until
// the reply arrives, the deadline passes, or ctx is cancelled. An empty ids
// slice short-circuits to an empty reply without touching the bus.
func (b *Bridge) Fetch(ctx context.Context, operation string, ids []string) (envelopepkg.Event, error) {
	return b.FetchWithTimeout(ctx, operation, ids, b.cfg.Timeout)
}

// FetchWithTimeout is Fetch with a per-call deadline override.
func (b *Bridge) FetchWithTimeout(ctx context.Context, operation string, ids []string, timeout time.Duration) (envelopepkg.Event, error) {
	if len(ids) == 0 {
		return envelopepkg.New(envelopepkg.ResponseType(operation), b.cfg.Source, []any{}), nil
	}
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}

	req := envelopepkg.NewRequest(operation, b.cfg.Source, FetchRequest{IDs: ids})
	correlationID := req.CorrelationID

	msg, err := envelopepkg.ToMessage(req)
	if err != nil {
		return envelopepkg.Event{}, err
	}
	msg.SetContext(ctx)

	p, err := b.add(correlationID)
	if err != nil {
		return envelopepkg.Event{}, err
	}

	if err := b.publisher.Publish(b.cfg.RequestTopic, msg); err != nil {
		b.take(correlationID)
		return envelopepkg.Event{}, errspkg.Wrap(errspkg.CodeInternal, "publishing request", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return res.event, res.err
	case <-timer.C:
		if b.take(correlationID) != nil {
			b.metrics.BridgeTimeouts.Inc()
			e := errspkg.Newf(errspkg.CodeTimeout,
				"no reply for %s within %s", operation, timeout)
			e.RetryAfter = timeout
			return envelopepkg.Event{}, e
		}
		// The reply consumer removed the pending entry first and has
		// already buffered the result.
		res := <-p.ch
		return res.event, res.err
	case <-ctx.Done():
		if b.take(correlationID) != nil {
			return envelopepkg.Event{}, errspkg.Wrap(errspkg.CodeTimeout, "request cancelled", ctx.Err())
		}
		res := <-p.ch
		return res.event, res.err
	}
}

// HandleReply is the reply-topic consumer, run as exactly one long-lived
// watermill handler. Unmatched or duplicate replies are logged and dropped
// since no caller is waiting on them.
func (b *Bridge) HandleReply(msg *message.Message) error {
	evt, err := envelopepkg.FromMessage(msg)
	if err != nil {
		b.logger.Error("Dropping malformed reply", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	if !idspkg.IsCorrelationID(evt.CorrelationID) {
		b.logger.Info("Dropping reply with malformed correlation id", loggingpkg.LogFields{
			"correlation_id": evt.CorrelationID,
			"message_uuid":   msg.UUID,
		})
		return nil
	}

	p := b.take(evt.CorrelationID)
	if p == nil {
		b.metrics.BridgeOrphanReplies.Inc()
		b.logger.Info("Dropping reply with no waiting caller", loggingpkg.LogFields{
			"correlation_id": evt.CorrelationID,
			"type":           evt.Type,
		})
		return nil
	}

	res := pendingResult{event: evt}
	if msg := evt.GetExtensionString(ExtensionError); msg != "" {
		res.err = errspkg.Newf(errspkg.CodeInternal, "remote handler failed: %s", msg)
	}
	p.ch <- res
	return nil
}

// Close rejects every in-flight request and refuses new ones. Replies
// arriving after Close are treated as orphans.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for correlationID, p := range b.pending {
		delete(b.pending, correlationID)
		b.metrics.BridgePending.Dec()
		p.ch <- pendingResult{err: errspkg.New(errspkg.CodeShuttingDown, "bridge shutting down")}
	}
}

// Pending reports the number of in-flight requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) add(correlationID string) (*pendingRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errspkg.New(errspkg.CodeShuttingDown, "bridge shutting down")
	}
	p := &pendingRequest{ch: make(chan pendingResult, 1)}
	b.pending[correlationID] = p
	b.metrics.BridgePending.Inc()
	return p, nil
}

// take removes and returns the pending entry for a correlation id. It is
// the single authoritative removal shared by the reply path, the timeout
// path, and shutdown, so exactly one of them owns the result channel.
func (b *Bridge) take(correlationID string) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[correlationID]
	if !ok {
		return nil
	}
	delete(b.pending, correlationID)
	b.metrics.BridgePending.Dec()
	return p
}

// DecodeData unmarshals a reply event's payload into v, bridging the
// envelope's dynamic data back into a typed value.
func DecodeData(evt envelopepkg.Event, v any) error {
	raw, err := jsoncodec.Marshal(evt.Data)
	if err != nil {
		return err
	}
	return jsoncodec.Unmarshal(raw, v)
}
