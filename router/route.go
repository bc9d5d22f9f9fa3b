package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/resilience"
	"github.com/riskmesh/riskmesh/types"
)

// maxConcurrentDeliveries bounds the fan-out of one Route or Broadcast
// call so a wide recipient set cannot spawn unbounded goroutines.
const maxConcurrentDeliveries = 16

// outstandingTTL bounds how long a delivered REQUEST waits for its
// RESPONSE before the correlation entry is pruned by the monitor.
const outstandingTTL = 10 * time.Minute

// UndeliverableError reports one recipient that could not be served and
// why. Route and Broadcast collect these instead of stopping at the
// first failure.
type UndeliverableError struct {
	Recipient string
	Code      types.ErrorCode
	Reason    string
	Cause     error
}

func (e *UndeliverableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("router: undeliverable to %s: %s: %v", e.Recipient, e.Reason, e.Cause)
	}
	return fmt.Sprintf("router: undeliverable to %s: %s", e.Recipient, e.Reason)
}

func (e *UndeliverableError) Unwrap() error { return e.Cause }

// DeliveryError aggregates a message's per-recipient failures. Delivered
// recipients are on the Receipt; errors.Is and errors.As reach into the
// individual failures.
type DeliveryError struct {
	MessageID string
	Failures  []*UndeliverableError
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("router: message %s undeliverable to %d recipient(s)", e.MessageID, len(e.Failures))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Receipt is the per-recipient outcome of one Route or Broadcast call.
type Receipt struct {
	MessageID string
	Delivered []string
	Failures  []*UndeliverableError
}

// Err returns nil when every recipient was served, otherwise the
// aggregated delivery error.
func (r *Receipt) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &DeliveryError{MessageID: r.MessageID, Failures: r.Failures}
}

func (r *Receipt) outcome() string {
	switch {
	case len(r.Failures) == 0:
		return "ok"
	case len(r.Delivered) > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Route delivers a direct message to each of its recipients. Unresolved
// recipients (unknown, deregistered or suppressed agents) fail with an
// UndeliverableError while the remaining recipients are still served.
// Expired messages are reported undelivered without any transmission
// attempt. HEARTBEAT messages are consumed as liveness signals for the
// sender and never forwarded.
func (r *Router) Route(ctx context.Context, msg *a2a.Message) (*Receipt, error) {
	start := time.Now()

	if msg == nil {
		return nil, types.NewError(types.ErrValidation, "nil message")
	}

	var span trace.Span
	ctx, span = r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msg.Type)),
		attribute.Int("message.recipients", len(msg.Recipients)),
	))
	defer span.End()

	if r.isClosed() {
		return nil, ErrClosed
	}
	if err := msg.ValidateForRoute(); err != nil {
		return nil, types.NewError(types.ErrValidation, "message rejected").WithCause(err)
	}

	if msg.Type == a2a.MessageTypeHeartbeat {
		if err := r.Heartbeat(msg.Sender); err != nil {
			return nil, err
		}
		r.metrics.RecordRoute(string(msg.Type), "ok", time.Since(start))
		return &Receipt{MessageID: msg.ID}, nil
	}

	if msg.Type == a2a.MessageTypeResponse && !r.hasOutstanding(msg.CorrelationID) {
		return nil, types.NewError(types.ErrValidation,
			"response correlates to no outstanding request: "+msg.CorrelationID)
	}

	if msg.IsExpired(r.now()) {
		receipt := r.expireAll(msg, msg.Recipients)
		r.metrics.RecordRoute(string(msg.Type), "expired", time.Since(start))
		return receipt, receipt.Err()
	}

	receipt := r.deliver(ctx, msg, msg.Recipients)
	r.settleCorrelation(msg, receipt)
	r.metrics.RecordRoute(string(msg.Type), receipt.outcome(), time.Since(start))
	return receipt, receipt.Err()
}

// Broadcast delivers the message to every live registered agent matching
// the optional capability filter, excluding the sender. An empty
// recipient set is not an error; partial delivery is visible on the
// receipt. The zero Capability matches all agents.
func (r *Router) Broadcast(ctx context.Context, msg *a2a.Message, filter a2a.Capability) (*Receipt, error) {
	start := time.Now()

	if msg == nil {
		return nil, types.NewError(types.ErrValidation, "nil message")
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return nil, types.NewError(types.ErrValidation, "message rejected").WithCause(err)
	}

	if msg.Type == a2a.MessageTypeHeartbeat {
		if err := r.Heartbeat(msg.Sender); err != nil {
			return nil, err
		}
		r.metrics.RecordRoute(string(msg.Type), "ok", time.Since(start))
		return &Receipt{MessageID: msg.ID}, nil
	}

	targets := r.broadcastTargets(msg.Sender, filter)
	r.metrics.RecordBroadcast(len(targets))
	if len(targets) == 0 {
		r.logger.Debug("broadcast matched no agents",
			zap.String("message_id", msg.ID),
			zap.String("filter", filter.String()),
		)
		return &Receipt{MessageID: msg.ID}, nil
	}

	if msg.IsExpired(r.now()) {
		receipt := r.expireAll(msg, targets)
		r.metrics.RecordRoute(string(msg.Type), "expired", time.Since(start))
		return receipt, receipt.Err()
	}

	receipt := r.deliver(ctx, msg, targets)
	r.settleCorrelation(msg, receipt)
	r.metrics.RecordRoute(string(msg.Type), receipt.outcome(), time.Since(start))
	return receipt, receipt.Err()
}

// deliver fans the message out to the recipients and settles every
// outcome before returning.
func (r *Router) deliver(ctx context.Context, msg *a2a.Message, recipients []string) *Receipt {
	results := make([]*UndeliverableError, len(recipients))

	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)
	for i, recipient := range recipients {
		g.Go(func() error {
			results[i] = r.deliverOne(ctx, msg, recipient)
			return nil
		})
	}
	_ = g.Wait()

	receipt := &Receipt{MessageID: msg.ID}
	for i, recipient := range recipients {
		if results[i] == nil {
			receipt.Delivered = append(receipt.Delivered, recipient)
		} else {
			receipt.Failures = append(receipt.Failures, results[i])
		}
	}
	return receipt
}

// deliverOne resolves the recipient and pushes the message through the
// rate limiter, retry policy and destination breaker. Resolution
// failures are permanent and skip the send path entirely.
func (r *Router) deliverOne(ctx context.Context, msg *a2a.Message, recipient string) *UndeliverableError {
	r.mu.RLock()
	reg, ok := r.agents[recipient]
	var (
		inbox      = transportInbox(reg)
		limiter    *rate.Limiter
		suppressed bool
	)
	if ok {
		limiter = reg.limiter
		suppressed = reg.suppressed
	}
	r.mu.RUnlock()

	if !ok {
		r.metrics.RecordDeliveryFailure(recipient, "unregistered")
		return &UndeliverableError{
			Recipient: recipient,
			Code:      types.ErrUndeliverable,
			Reason:    "agent not registered",
		}
	}
	if suppressed {
		r.metrics.RecordDeliveryFailure(recipient, "suppressed")
		return &UndeliverableError{
			Recipient: recipient,
			Code:      types.ErrUndeliverable,
			Reason:    "agent suppressed after missed heartbeats",
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			r.metrics.RecordDeliveryFailure(recipient, "rate_limited")
			return &UndeliverableError{
				Recipient: recipient,
				Code:      types.ErrDeliveryFailed,
				Reason:    "rate limit wait aborted",
				Cause:     err,
			}
		}
	}

	attempt := 0
	err := r.retryer.Do(ctx, func() error {
		attempt++
		if attempt > 1 {
			r.metrics.RecordRetryAttempt(recipient)
		}
		return r.breakers.Call(ctx, recipient, func() error {
			return inbox.Send(ctx, msg)
		})
	})
	if err == nil {
		return nil
	}

	code, reason := types.ErrDeliveryFailed, "delivery failed"
	label := "exhausted"
	if errors.Is(err, resilience.ErrCircuitOpen) {
		code, reason, label = types.ErrCircuitOpen, "circuit open", "circuit_open"
	}
	r.metrics.RecordDeliveryFailure(recipient, label)
	r.logger.Warn("delivery failed",
		zap.String("message_id", msg.ID),
		zap.String("recipient", recipient),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return &UndeliverableError{Recipient: recipient, Code: code, Reason: reason, Cause: err}
}

// expireAll reports every recipient undelivered without transmission.
func (r *Router) expireAll(msg *a2a.Message, recipients []string) *Receipt {
	receipt := &Receipt{MessageID: msg.ID}
	for _, recipient := range recipients {
		receipt.Failures = append(receipt.Failures, &UndeliverableError{
			Recipient: recipient,
			Code:      types.ErrExpiredMessage,
			Reason:    "message expired before delivery",
			Cause:     a2a.ErrExpired,
		})
	}
	r.logger.Warn("message expired before delivery",
		zap.String("message_id", msg.ID),
		zap.Int("recipients", len(recipients)),
	)
	return receipt
}

// settleCorrelation records delivered REQUESTs as outstanding and clears
// the entry a delivered RESPONSE answers.
func (r *Router) settleCorrelation(msg *a2a.Message, receipt *Receipt) {
	if len(receipt.Delivered) == 0 {
		return
	}
	switch msg.Type {
	case a2a.MessageTypeRequest:
		r.mu.Lock()
		r.outstanding[msg.ID] = pendingRequest{sender: msg.Sender, at: r.now()}
		r.mu.Unlock()
	case a2a.MessageTypeResponse:
		r.mu.Lock()
		delete(r.outstanding, msg.CorrelationID)
		r.mu.Unlock()
	}
}

func (r *Router) hasOutstanding(correlationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.outstanding[correlationID]
	return ok
}

// broadcastTargets snapshots the live agents matching the filter,
// excluding the sender, in sorted order.
func (r *Router) broadcastTargets(sender string, filter a2a.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, reg := range r.agents {
		if id == sender || reg.suppressed {
			continue
		}
		if filter != "" && !reg.card.HasCapability(filter) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Router) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
