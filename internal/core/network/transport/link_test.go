package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte(`{"kind":"shout"}`))
	assert.ErrorIs(t, err, ErrUnexpected)

	_, err = UnmarshalEnvelope([]byte(`not json`))
	assert.Error(t, err)

	env, err := UnmarshalEnvelope([]byte(`{"kind":"join","userId":"u1","userName":"Ann"}`))
	require.NoError(t, err)
	assert.Equal(t, KindJoin, env.Kind)
	assert.EqualValues(t, "u1", env.UserID)
}

func TestEnvelopeMarshalEnforcesFrameLimit(t *testing.T) {
	_, err := Envelope{Kind: KindLeave, Reason: strings.Repeat("x", MaxFrameSize)}.Marshal()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// exchange checks that both directions of a connected pair carry frames.
func exchange(t *testing.T, client, server Link) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Send(ctx, Envelope{Kind: KindJoin, UserID: "u1"}))
	got, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindJoin, got.Kind)
	assert.EqualValues(t, "u1", got.UserID)

	require.NoError(t, server.Send(ctx, Envelope{Kind: KindWelcome, PeerID: "p1", HostID: "h", PeerIndex: 2}))
	got, err = client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindWelcome, got.Kind)
	assert.EqualValues(t, "p1", got.PeerID)
	assert.EqualValues(t, 2, got.PeerIndex)

	assert.NotEmpty(t, client.ID())
	assert.NotEqual(t, client.ID(), server.ID())
	assert.NotEmpty(t, server.RemoteAddr())
}

func TestWebSocketLinkRoundTrip(t *testing.T) {
	listener := NewWebSocketListener()
	srv := httptest.NewServer(listener)
	defer srv.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	server, err := listener.Accept(ctx)
	require.NoError(t, err)

	exchange(t, client, server)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "close is idempotent")
	_, err = server.Receive(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, client.Send(ctx, Envelope{Kind: KindLeave}), ErrClosed)
}

func TestWebSocketListenerClose(t *testing.T) {
	listener := NewWebSocketListener()
	require.NoError(t, listener.Close())
	_, err := listener.Accept(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQUICLinkRoundTrip(t *testing.T) {
	listener, err := ListenQUIC("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := DialQUIC(ctx, listener.Addr(), nil)
	require.NoError(t, err)
	defer client.Close()

	// The stream becomes visible to the listener with the first frame.
	require.NoError(t, client.Send(ctx, Envelope{Kind: KindLeave, Reason: "hello"}))
	server, err := listener.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	first, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Reason)

	exchange(t, client, server)
}
