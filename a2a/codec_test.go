package a2a

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	orig, err := NewMessage("pricing-agent", []string{"risk-agent", "audit-agent"}, MessageTypeRequest,
		[]Part{
			TextPart("evaluate portfolio 7"),
			DataPart(map[string]any{"portfolioId": "p-7", "exposure": 1250000.5}),
			FilePart(FileRef{Name: "positions.csv", URI: "s3://risk-data/positions.csv", MimeType: "text/csv", SizeBytes: 4096}),
			BinaryPart([]byte{0xde, 0xad, 0xbe, 0xef}),
		},
		WithPriority(PriorityHigh),
		WithTTL(time.Minute),
	)
	require.NoError(t, err)

	data, err := Marshal(orig)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.CorrelationID, got.CorrelationID)
	assert.Equal(t, orig.Sender, got.Sender)
	assert.Equal(t, orig.Recipients, got.Recipients)
	assert.Equal(t, orig.Type, got.Type)
	assert.Equal(t, orig.Priority, got.Priority)
	assert.True(t, got.CreatedAt.Equal(orig.CreatedAt), "createdAt drifted: %v vs %v", got.CreatedAt, orig.CreatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*orig.ExpiresAt))
	assert.Equal(t, orig.Parts, got.Parts)
}

func TestCodec_WireShape(t *testing.T) {
	m, err := NewMessage("a", []string{"b"}, MessageTypeRequest,
		[]Part{TextPart("hello")})
	require.NoError(t, err)

	data, err := Marshal(m)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Contains(t, wire, "header")
	require.Contains(t, wire, "parts")

	var header map[string]any
	require.NoError(t, json.Unmarshal(wire["header"], &header))
	assert.Equal(t, m.ID, header["id"])
	assert.Equal(t, "a", header["sender"])
	assert.Equal(t, "REQUEST", header["type"])
	assert.NotContains(t, header, "correlationId", "empty correlation must be omitted")
	assert.NotContains(t, header, "expiresAt")

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(wire["parts"], &parts))
	require.Len(t, parts, 1)
	assert.Equal(t, ContentTypeText, parts[0]["contentType"])
	assert.Equal(t, "hello", parts[0]["payload"])
}

func TestCodec_MarshalRejectsUnregisteredType(t *testing.T) {
	m := &Message{
		ID:        "m-1",
		Sender:    "a",
		Type:      MessageTypeNotification,
		Priority:  PriorityNormal,
		CreatedAt: time.Now().UTC(),
		Parts:     []Part{RawPart("application/x-mystery", "data")},
	}
	_, err := Marshal(m)
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestCodec_UnmarshalRejectsUnregisteredType(t *testing.T) {
	raw := `{
		"header": {"id":"m-1","sender":"a","recipients":["b"],"type":"NOTIFICATION","priority":1,"createdAt":"2026-08-24T10:00:00Z"},
		"parts": [{"contentType":"application/x-mystery","payload":"data"}]
	}`
	_, err := Unmarshal([]byte(raw))
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestCodec_UnmarshalRejectsBadEnvelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{`},
		{"missing sender", `{"header":{"id":"m-1","type":"REQUEST","priority":1,"createdAt":"2026-08-24T10:00:00Z"},"parts":[{"contentType":"text/plain","payload":"x"}]}`},
		{"bad type", `{"header":{"id":"m-1","sender":"a","type":"YELL","priority":1,"createdAt":"2026-08-24T10:00:00Z"},"parts":[{"contentType":"text/plain","payload":"x"}]}`},
		{"no parts", `{"header":{"id":"m-1","sender":"a","type":"REQUEST","priority":1,"createdAt":"2026-08-24T10:00:00Z"},"parts":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestCodec_ExpiredMessageStillDecodes(t *testing.T) {
	created := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	expired := created.Add(time.Second)
	m := &Message{
		ID:        "m-old",
		Sender:    "a",
		Recipients: []string{"b"},
		Type:      MessageTypeRequest,
		Priority:  PriorityNormal,
		CreatedAt: created,
		ExpiresAt: &expired,
		Parts:     []Part{TextPart("stale")},
	}
	data, err := Marshal(m)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, got.IsExpired(time.Now()))
}

type riskScore struct {
	Score float64 `json:"score"`
	Band  string  `json:"band"`
}

type riskScoreHandler struct{}

func (riskScoreHandler) Validate(payload any) error {
	s, ok := payload.(riskScore)
	if !ok {
		return ErrInvalidPayload
	}
	if s.Score < 0 || s.Score > 1 {
		return ErrInvalidPayload
	}
	return nil
}

func (riskScoreHandler) Marshal(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

func (riskScoreHandler) Unmarshal(data []byte) (any, error) {
	var s riskScore
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func TestCodec_CustomHandlerRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("application/vnd.riskmesh.score+json", riskScoreHandler{}))
	codec := NewCodec(reg)

	m, err := NewMessage("risk-agent", []string{"coordinator"}, MessageTypeNotification,
		[]Part{RawPart("application/vnd.riskmesh.score+json", riskScore{Score: 0.73, Band: "elevated"})},
		WithRegistry(reg),
	)
	require.NoError(t, err)

	data, err := codec.Marshal(m)
	require.NoError(t, err)

	got, err := codec.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, got.Parts, 1)
	assert.Equal(t, riskScore{Score: 0.73, Band: "elevated"}, got.Parts[0].Payload)
}

func TestCodec_Clone(t *testing.T) {
	orig, err := NewMessage("a", []string{"b"}, MessageTypeRequest,
		[]Part{DataPart(map[string]any{"count": 3.0})})
	require.NoError(t, err)

	clone, err := NewCodec(nil).Clone(orig)
	require.NoError(t, err)

	assert.Equal(t, orig.ID, clone.ID)
	clone.Parts[0].Payload.(map[string]any)["count"] = 99.0
	assert.Equal(t, 3.0, orig.Parts[0].Payload.(map[string]any)["count"])
}
