package a2a

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Builtins(t *testing.T) {
	reg := NewRegistry()

	types := reg.Types()
	assert.Equal(t, []string{
		ContentTypeJSON,
		ContentTypeBinary,
		ContentTypeFileRef,
		ContentTypeText,
	}, types)

	for _, ct := range types {
		assert.True(t, reg.Supports(ct), "missing handler for %s", ct)
	}
	assert.False(t, reg.Supports("application/x-unknown"))
}

func TestRegistry_WithoutBuiltins(t *testing.T) {
	reg := NewRegistry(WithoutBuiltins())
	assert.Empty(t, reg.Types())
	assert.False(t, reg.Supports(ContentTypeText))
}

type upperHandler struct{}

func (upperHandler) Validate(payload any) error {
	if _, ok := payload.(string); !ok {
		return errors.New("want string")
	}
	return nil
}

func (upperHandler) Marshal(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

func (upperHandler) Unmarshal(data []byte) (any, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func TestRegistry_RegisterAndReplace(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("text/upper", upperHandler{})
	require.NoError(t, err)
	assert.True(t, reg.Supports("text/upper"))

	err = reg.Register("text/upper", upperHandler{})
	assert.ErrorIs(t, err, ErrHandlerExists)

	err = reg.Register(ContentTypeText, upperHandler{})
	assert.ErrorIs(t, err, ErrHandlerExists)

	// Replace swaps deliberately where Register refuses.
	reg.Replace(ContentTypeText, upperHandler{})
	h, ok := reg.Handler(ContentTypeText)
	require.True(t, ok)
	assert.IsType(t, upperHandler{}, h)
}

func TestRegistry_RegisterRejectsBadInput(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", upperHandler{}))
	assert.Error(t, reg.Register("text/x", nil))
}

func TestTextHandler(t *testing.T) {
	h, ok := NewRegistry().Handler(ContentTypeText)
	require.True(t, ok)

	assert.NoError(t, h.Validate("risk report ready"))
	assert.ErrorIs(t, h.Validate(""), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate(42), ErrInvalidPayload)

	data, err := h.Marshal("hello")
	require.NoError(t, err)
	got, err := h.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestDataHandler(t *testing.T) {
	h, ok := NewRegistry().Handler(ContentTypeJSON)
	require.True(t, ok)

	assert.NoError(t, h.Validate(map[string]any{"score": 0.87}))
	assert.ErrorIs(t, h.Validate(map[string]any{}), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate("not a map"), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate(map[string]any{"ch": make(chan int)}), ErrInvalidPayload)

	data, err := h.Marshal(map[string]any{"score": 0.87, "band": "high"})
	require.NoError(t, err)
	got, err := h.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 0.87, "band": "high"}, got)
}

func TestFileRefHandler(t *testing.T) {
	h, ok := NewRegistry().Handler(ContentTypeFileRef)
	require.True(t, ok)

	ref := FileRef{Name: "exposure.csv", URI: "s3://risk-data/exposure.csv", MimeType: "text/csv", SizeBytes: 2048}
	assert.NoError(t, h.Validate(ref))
	assert.ErrorIs(t, h.Validate(FileRef{URI: "s3://x"}), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate(FileRef{Name: "x"}), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate(FileRef{Name: "x", URI: "s3://x", SizeBytes: -1}), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate(map[string]any{"name": "x"}), ErrInvalidPayload)

	data, err := h.Marshal(ref)
	require.NoError(t, err)
	got, err := h.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestBinaryHandler(t *testing.T) {
	h, ok := NewRegistry().Handler(ContentTypeBinary)
	require.True(t, ok)

	blob := []byte{0x1f, 0x8b, 0x08, 0x00}
	assert.NoError(t, h.Validate(blob))
	assert.ErrorIs(t, h.Validate([]byte{}), ErrInvalidPayload)
	assert.ErrorIs(t, h.Validate("string"), ErrInvalidPayload)

	data, err := h.Marshal(blob)
	require.NoError(t, err)
	got, err := h.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestBinaryHandler_SizeCap(t *testing.T) {
	reg := NewRegistry(WithMaxBinaryBytes(8))
	h, ok := reg.Handler(ContentTypeBinary)
	require.True(t, ok)

	assert.NoError(t, h.Validate(make([]byte, 8)))
	assert.ErrorIs(t, h.Validate(make([]byte, 9)), ErrInvalidPayload)
}
