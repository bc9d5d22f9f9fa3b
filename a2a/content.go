package a2a

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Content types understood by the built-in handlers.
const (
	// ContentTypeText carries a plain UTF-8 string.
	ContentTypeText = "text/plain"

	// ContentTypeJSON carries structured data as a JSON object.
	ContentTypeJSON = "application/json"

	// ContentTypeFileRef carries a reference to externally stored content.
	ContentTypeFileRef = "application/vnd.riskmesh.file-ref+json"

	// ContentTypeBinary carries an opaque byte blob, base64 on the wire.
	ContentTypeBinary = "application/octet-stream"
)

// DefaultMaxBinaryBytes caps binary payloads when no explicit limit is given.
const DefaultMaxBinaryBytes = 8 << 20

// ContentHandler validates and serializes payloads of one content type.
// Validate must reject payloads the handler cannot marshal, so that a part
// accepted at construction time never fails later on the wire.
type ContentHandler interface {
	// Validate checks the in-memory payload against the content type's rules.
	Validate(payload any) error

	// Marshal encodes the payload into its wire representation.
	Marshal(payload any) ([]byte, error)

	// Unmarshal decodes the wire representation back into the canonical
	// in-memory payload type.
	Unmarshal(data []byte) (any, error)
}

// Registry maps content types to their handlers. The zero value is not
// usable; construct with NewRegistry. All methods are safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ContentHandler
}

// NewRegistry returns a registry pre-loaded with the built-in handlers for
// text, structured data, file references and binary blobs. Additional
// handlers may be registered at any time.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{handlers: make(map[string]ContentHandler)}
	cfg := registryConfig{maxBinaryBytes: DefaultMaxBinaryBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.skipBuiltins {
		r.handlers[ContentTypeText] = textHandler{}
		r.handlers[ContentTypeJSON] = dataHandler{}
		r.handlers[ContentTypeFileRef] = fileRefHandler{}
		r.handlers[ContentTypeBinary] = binaryHandler{maxBytes: cfg.maxBinaryBytes}
	}
	return r
}

type registryConfig struct {
	maxBinaryBytes int64
	skipBuiltins   bool
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*registryConfig)

// WithMaxBinaryBytes overrides the size cap enforced by the built-in binary
// handler.
func WithMaxBinaryBytes(n int64) RegistryOption {
	return func(c *registryConfig) { c.maxBinaryBytes = n }
}

// WithoutBuiltins returns an empty registry. Intended for tests and for
// deployments that replace the standard handlers wholesale.
func WithoutBuiltins() RegistryOption {
	return func(c *registryConfig) { c.skipBuiltins = true }
}

// Register adds a handler for a content type. Registering a type twice
// returns ErrHandlerExists; use Replace to swap a handler deliberately.
func (r *Registry) Register(contentType string, h ContentHandler) error {
	if contentType == "" {
		return fmt.Errorf("%w: empty content type", ErrUnsupportedContentType)
	}
	if h == nil {
		return fmt.Errorf("a2a: nil handler for %q", contentType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[contentType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, contentType)
	}
	r.handlers[contentType] = h
	return nil
}

// Replace installs a handler regardless of whether one is already present.
func (r *Registry) Replace(contentType string, h ContentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[contentType] = h
}

// Handler returns the handler for a content type.
func (r *Registry) Handler(contentType string) (ContentHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[contentType]
	return h, ok
}

// Supports reports whether a handler is registered for the content type.
func (r *Registry) Supports(contentType string) bool {
	_, ok := r.Handler(contentType)
	return ok
}

// Types returns the registered content types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for ct := range r.handlers {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

// validate routes a payload to its handler, failing fast on unknown types.
func (r *Registry) validate(contentType string, payload any) error {
	h, ok := r.Handler(contentType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	return h.Validate(payload)
}

// FileRef points at content stored outside the message, typically in the
// artifact store or an object store reachable by the recipient.
type FileRef struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// textHandler handles text/plain payloads carried as Go strings.
type textHandler struct{}

func (textHandler) Validate(payload any) error {
	s, ok := payload.(string)
	if !ok {
		return fmt.Errorf("%w: text payload must be string, got %T", ErrInvalidPayload, payload)
	}
	if s == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidPayload)
	}
	return nil
}

func (textHandler) Marshal(payload any) ([]byte, error) {
	s, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("%w: text payload must be string, got %T", ErrInvalidPayload, payload)
	}
	return json.Marshal(s)
}

func (textHandler) Unmarshal(data []byte) (any, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return s, nil
}

// dataHandler handles structured application/json payloads carried as
// map[string]any. Unmarshal follows encoding/json conventions, so numeric
// values come back as float64.
type dataHandler struct{}

func (dataHandler) Validate(payload any) error {
	m, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: data payload must be map[string]any, got %T", ErrInvalidPayload, payload)
	}
	if len(m) == 0 {
		return fmt.Errorf("%w: empty data payload", ErrInvalidPayload)
	}
	if _, err := json.Marshal(m); err != nil {
		return fmt.Errorf("%w: payload not serializable: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (dataHandler) Marshal(payload any) ([]byte, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: data payload must be map[string]any, got %T", ErrInvalidPayload, payload)
	}
	return json.Marshal(m)
}

func (dataHandler) Unmarshal(data []byte) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return m, nil
}

// fileRefHandler handles file reference payloads carried as FileRef values.
type fileRefHandler struct{}

func (fileRefHandler) Validate(payload any) error {
	ref, ok := payload.(FileRef)
	if !ok {
		return fmt.Errorf("%w: file payload must be FileRef, got %T", ErrInvalidPayload, payload)
	}
	if ref.Name == "" {
		return fmt.Errorf("%w: file reference missing name", ErrInvalidPayload)
	}
	if ref.URI == "" {
		return fmt.Errorf("%w: file reference missing uri", ErrInvalidPayload)
	}
	if ref.SizeBytes < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidPayload)
	}
	return nil
}

func (fileRefHandler) Marshal(payload any) ([]byte, error) {
	ref, ok := payload.(FileRef)
	if !ok {
		return nil, fmt.Errorf("%w: file payload must be FileRef, got %T", ErrInvalidPayload, payload)
	}
	return json.Marshal(ref)
}

func (fileRefHandler) Unmarshal(data []byte) (any, error) {
	var ref FileRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ref, nil
}

// binaryHandler handles opaque blobs carried as []byte. encoding/json
// base64-encodes byte slices, which matches the wire format.
type binaryHandler struct {
	maxBytes int64
}

func (h binaryHandler) Validate(payload any) error {
	b, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("%w: binary payload must be []byte, got %T", ErrInvalidPayload, payload)
	}
	if len(b) == 0 {
		return fmt.Errorf("%w: empty binary payload", ErrInvalidPayload)
	}
	if h.maxBytes > 0 && int64(len(b)) > h.maxBytes {
		return fmt.Errorf("%w: binary payload %d bytes exceeds limit %d", ErrInvalidPayload, len(b), h.maxBytes)
	}
	return nil
}

func (h binaryHandler) Marshal(payload any) ([]byte, error) {
	b, ok := payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: binary payload must be []byte, got %T", ErrInvalidPayload, payload)
	}
	return json.Marshal(b)
}

func (h binaryHandler) Unmarshal(data []byte) (any, error) {
	var b []byte
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}
