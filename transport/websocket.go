package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/types"
)

// WebSocketInbox delivers envelopes to a remote agent by dialing its
// advertised endpoint and writing wire-encoded messages as text frames.
// The connection is established lazily on first send and re-established
// after a failure, so a dead endpoint surfaces as a transient error the
// retry layer can act on.
type WebSocketInbox struct {
	endpoint    string
	bearerToken string
	codec       *a2a.Codec
	logger      *zap.Logger
	dialTimeout time.Duration

	// mu also serializes writes, preserving per-destination send order.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

type wsOptions struct {
	bearerToken string
	codec       *a2a.Codec
	logger      *zap.Logger
	dialTimeout time.Duration
}

// WSOption configures a WebSocketInbox.
type WSOption func(*wsOptions)

// WithBearerToken attaches an Authorization header to the dial request.
func WithBearerToken(token string) WSOption {
	return func(o *wsOptions) { o.bearerToken = token }
}

// WithCodec overrides the codec used to encode envelopes.
func WithCodec(c *a2a.Codec) WSOption {
	return func(o *wsOptions) { o.codec = c }
}

// WithLogger attaches a logger for connection lifecycle events.
func WithLogger(l *zap.Logger) WSOption {
	return func(o *wsOptions) { o.logger = l }
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(d time.Duration) WSOption {
	return func(o *wsOptions) { o.dialTimeout = d }
}

// NewWebSocketInbox builds an inbox for the agent endpoint. No connection
// is made until the first Send.
func NewWebSocketInbox(endpoint string, opts ...WSOption) *WebSocketInbox {
	o := wsOptions{
		codec:       a2a.NewCodec(nil),
		logger:      zap.NewNop(),
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &WebSocketInbox{
		endpoint:    endpoint,
		bearerToken: o.bearerToken,
		codec:       o.codec,
		logger:      o.logger.With(zap.String("component", "ws_inbox"), zap.String("endpoint", endpoint)),
		dialTimeout: o.dialTimeout,
	}
}

// Send encodes and writes the envelope. Dial and write failures tear down
// the connection and report transient so the caller's retry can redial;
// encoding failures are permanent.
func (w *WebSocketInbox) Send(ctx context.Context, msg *a2a.Message) error {
	data, err := w.codec.Marshal(msg)
	if err != nil {
		return types.NewError(types.ErrValidation, "encode message").WithCause(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return types.NewError(types.ErrDeliveryFailed, "inbox closed")
	}
	if w.conn == nil {
		if err := w.dialLocked(ctx); err != nil {
			return err
		}
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		w.logger.Warn("write failed, dropping connection", zap.Error(err))
		_ = w.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		w.conn = nil
		return types.NewError(types.ErrTransient, "websocket write failed").
			WithRetryable(true).
			WithCause(err)
	}
	return nil
}

func (w *WebSocketInbox) dialLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, w.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if w.bearerToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.bearerToken}}
	}
	conn, _, err := websocket.Dial(dialCtx, w.endpoint, opts)
	if err != nil {
		return types.NewError(types.ErrTransient, "dial agent endpoint").
			WithRetryable(true).
			WithCause(err)
	}
	w.logger.Debug("connected")
	w.conn = conn
	return nil
}

// Close shuts the connection down cleanly. Further sends fail permanent.
func (w *WebSocketInbox) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn != nil {
		err := w.conn.Close(websocket.StatusNormalClosure, "inbox closed")
		w.conn = nil
		return err
	}
	return nil
}

var _ Inbox = (*WebSocketInbox)(nil)
