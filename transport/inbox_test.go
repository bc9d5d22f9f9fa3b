package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/types"
)

func testMessage(t *testing.T, text string) *a2a.Message {
	t.Helper()
	m, err := a2a.NewMessage("sender", []string{"recipient"}, a2a.MessageTypeNotification,
		[]a2a.Part{a2a.TextPart(text)})
	require.NoError(t, err)
	return m
}

func TestChannelInbox_FIFO(t *testing.T) {
	inbox := NewChannelInbox(8, time.Second)
	defer inbox.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, inbox.Send(context.Background(), testMessage(t, fmt.Sprintf("msg-%d", i))))
	}
	for i := 0; i < 5; i++ {
		select {
		case got := <-inbox.Receive():
			assert.Equal(t, fmt.Sprintf("msg-%d", i), got.Parts[0].Payload)
		case <-time.After(time.Second):
			t.Fatal("receive timed out")
		}
	}
}

func TestChannelInbox_FullReportsTransient(t *testing.T) {
	inbox := NewChannelInbox(1, 20*time.Millisecond)
	defer inbox.Close()

	require.NoError(t, inbox.Send(context.Background(), testMessage(t, "first")))

	err := inbox.Send(context.Background(), testMessage(t, "second"))
	require.Error(t, err)
	assert.Equal(t, types.ErrTransient, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestChannelInbox_SendAfterCloseIsPermanent(t *testing.T) {
	inbox := NewChannelInbox(4, time.Second)
	require.NoError(t, inbox.Close())

	err := inbox.Send(context.Background(), testMessage(t, "late"))
	require.Error(t, err)
	assert.Equal(t, types.ErrDeliveryFailed, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestChannelInbox_CloseUnblocksConsumers(t *testing.T) {
	inbox := NewChannelInbox(1, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-inbox.Done():
		case <-time.After(2 * time.Second):
			t.Error("consumer never unblocked")
		}
	}()

	require.NoError(t, inbox.Close())
	require.NoError(t, inbox.Close(), "close must be idempotent")
	<-done
}

func TestChannelInbox_BufferedMessagesSurviveClose(t *testing.T) {
	inbox := NewChannelInbox(4, time.Second)
	require.NoError(t, inbox.Send(context.Background(), testMessage(t, "queued")))
	require.NoError(t, inbox.Close())

	select {
	case got := <-inbox.Receive():
		assert.Equal(t, "queued", got.Parts[0].Payload)
	default:
		t.Fatal("buffered message lost on close")
	}
}

func TestChannelInbox_ContextCancel(t *testing.T) {
	inbox := NewChannelInbox(1, time.Minute)
	defer inbox.Close()
	require.NoError(t, inbox.Send(context.Background(), testMessage(t, "fill")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := inbox.Send(ctx, testMessage(t, "blocked"))
	require.Error(t, err)
	assert.Equal(t, types.ErrDeliveryFailed, types.GetErrorCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewChannelInbox_NormalizesArgs(t *testing.T) {
	inbox := NewChannelInbox(0, 0)
	defer inbox.Close()
	assert.Equal(t, 1, cap(inbox.ch))
	assert.Equal(t, DefaultSendTimeout, inbox.sendTimeout)
}
