package transport

import (
	"context"
	"sync"
	"time"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/types"
)

// Inbox is the delivery target the router writes to for one agent. Send
// returns once the message is accepted for consumption, so a sequential
// caller gets per-recipient FIFO ordering for free.
type Inbox interface {
	Send(ctx context.Context, msg *a2a.Message) error
	Close() error
}

// DefaultSendTimeout bounds how long a send waits on a full inbox before
// reporting a transient failure.
const DefaultSendTimeout = 5 * time.Second

// ChannelInbox is the in-process inbox: a bounded channel the agent's
// worker loop consumes. A full inbox makes Send block up to the send
// timeout and then fail transient, which keeps slow consumers visible to
// the retry layer instead of growing unbounded queues.
type ChannelInbox struct {
	ch          chan *a2a.Message
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
}

// NewChannelInbox builds an inbox with the given buffer size. Sizes below
// 1 are bumped to 1; a zero or negative sendTimeout selects the default.
func NewChannelInbox(size int, sendTimeout time.Duration) *ChannelInbox {
	if size < 1 {
		size = 1
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &ChannelInbox{
		ch:          make(chan *a2a.Message, size),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

// Send enqueues the message. It fails transient when the inbox stays full
// past the send timeout and permanent once the inbox is closed.
func (i *ChannelInbox) Send(ctx context.Context, msg *a2a.Message) error {
	select {
	case <-i.done:
		return types.NewError(types.ErrDeliveryFailed, "inbox closed")
	default:
	}

	timer := time.NewTimer(i.sendTimeout)
	defer timer.Stop()

	select {
	case i.ch <- msg:
		return nil
	case <-i.done:
		return types.NewError(types.ErrDeliveryFailed, "inbox closed")
	case <-ctx.Done():
		return types.NewError(types.ErrDeliveryFailed, "send canceled").WithCause(ctx.Err())
	case <-timer.C:
		return types.NewError(types.ErrTransient, "inbox full").WithRetryable(true)
	}
}

// Receive exposes the consumption side for the agent's worker loop.
func (i *ChannelInbox) Receive() <-chan *a2a.Message {
	return i.ch
}

// Done is closed when the inbox is closed, letting consumers unblock.
func (i *ChannelInbox) Done() <-chan struct{} {
	return i.done
}

// Close marks the inbox closed. Messages already buffered remain readable;
// further sends fail permanent. Safe to call more than once.
func (i *ChannelInbox) Close() error {
	i.closeOnce.Do(func() { close(i.done) })
	return nil
}

var _ Inbox = (*ChannelInbox)(nil)
