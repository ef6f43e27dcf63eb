package wsgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond

	g := New(cfg, nil)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, g)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		g.Close()
		server.Close()
	})
	return g, server
}

func connectWorker(t *testing.T, server *httptest.Server, id model.WorkerID) Client {
	t.Helper()
	c := NewClient(testClientConfig(WorkerURL(wsURL(server)+"/ws/", id)), nil)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func waitConnected(t *testing.T, g *Gateway, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(g.Connected()) == n },
		time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, g *Gateway) model.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := g.Receive(ctx)
	require.NoError(t, err)
	msg, err := model.Decode(env)
	require.NoError(t, err)
	return msg
}

func TestGateway_RoundTrip(t *testing.T) {
	g, server := newTestGateway(t)
	id := model.NewWorkerID()
	worker := connectWorker(t, server, id)
	waitConnected(t, g, 1)

	require.NoError(t, worker.SendMessage(model.Message{Type: model.MessageTypeRegistration, SenderID: id}))
	got := receive(t, g)
	assert.Equal(t, model.MessageTypeRegistration, got.Type)
	assert.Equal(t, id, got.SenderID)

	h, err := g.CreateChannel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), h.Channel())

	env, err := model.Encode(model.Message{Type: model.MessageTypeStart, SenderID: model.NewWorkerID()})
	require.NoError(t, err)
	require.NoError(t, g.Send(context.Background(), h, env))

	select {
	case out := <-worker.Messages():
		msg, err := model.Decode(out)
		require.NoError(t, err)
		assert.Equal(t, model.MessageTypeStart, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("worker did not receive start")
	}
}

func TestGateway_CreateChannelOffline(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.CreateChannel(context.Background(), model.NewWorkerID())
	assert.ErrorIs(t, err, transport.ErrChannelCreateFailed)
}

func TestGateway_SendAfterDisconnect(t *testing.T) {
	g, server := newTestGateway(t)
	id := model.NewWorkerID()
	worker := connectWorker(t, server, id)
	waitConnected(t, g, 1)

	h, err := g.CreateChannel(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, worker.Close())
	waitConnected(t, g, 0)

	env, _ := model.Encode(model.Message{Type: model.MessageTypeTick, SenderID: id})
	err = g.Send(context.Background(), h, env)
	assert.ErrorIs(t, err, transport.ErrTransportFailure)
}

func TestGateway_ReconnectReplacesConnection(t *testing.T) {
	g, server := newTestGateway(t)
	id := model.NewWorkerID()
	first := connectWorker(t, server, id)
	waitConnected(t, g, 1)
	h, err := g.CreateChannel(context.Background(), id)
	require.NoError(t, err)

	second := connectWorker(t, server, id)
	require.Eventually(t, func() bool { return !first.IsConnected() },
		time.Second, 5*time.Millisecond, "old connection is closed")
	waitConnected(t, g, 1)

	env, _ := model.Encode(model.Message{Type: model.MessageTypeClear, SenderID: id})
	require.NoError(t, g.Send(context.Background(), h, env), "handle follows the live connection")

	select {
	case out := <-second.Messages():
		assert.Equal(t, model.ContentTypeMessage, out.ContentType)
	case <-time.After(time.Second):
		t.Fatal("new connection did not receive message")
	}
}

func TestGateway_OnDisconnect(t *testing.T) {
	g, server := newTestGateway(t)
	gone := make(chan model.WorkerID, 4)
	g.OnDisconnect(func(id model.WorkerID) {
		select {
		case gone <- id:
		default:
		}
	})

	id := model.NewWorkerID()
	first := connectWorker(t, server, id)
	waitConnected(t, g, 1)

	second := connectWorker(t, server, id)
	require.Eventually(t, func() bool { return !first.IsConnected() },
		time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(gone) > 0 },
		100*time.Millisecond, 10*time.Millisecond, "replaced connection is not a disconnect")

	require.NoError(t, second.Close())
	select {
	case got := <-gone:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestGateway_DropsMalformedFrames(t *testing.T) {
	g, server := newTestGateway(t)
	id := model.NewWorkerID()

	conn, _, err := websocket.DefaultDialer.Dial(WorkerURL(wsURL(server)+"/ws/", id), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	good, _ := model.Encode(model.Message{Type: model.MessageTypeResults, SenderID: id})
	frame, err := EncodeFrame(good)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	got := receive(t, g)
	assert.Equal(t, model.MessageTypeResults, got.Type)
}

func TestGateway_RejectsBadPath(t *testing.T) {
	_, server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/ws/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_CloseUnblocksReceive(t *testing.T) {
	g, server := newTestGateway(t)
	worker := connectWorker(t, server, model.NewWorkerID())
	waitConnected(t, g, 1)

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Receive(context.Background())
		errCh <- err
	}()

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive not unblocked by Close")
	}
	require.Eventually(t, func() bool { return !worker.IsConnected() },
		time.Second, 5*time.Millisecond)

	_, err := g.CreateChannel(context.Background(), model.NewWorkerID())
	assert.ErrorIs(t, err, transport.ErrChannelCreateFailed)
}

func TestGateway_Drain(t *testing.T) {
	g, server := newTestGateway(t)
	id := model.NewWorkerID()
	worker := connectWorker(t, server, id)
	waitConnected(t, g, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, worker.SendMessage(model.Message{Type: model.MessageTypeInfect, SenderID: id}))
	}
	require.Eventually(t, func() bool { return g.inbound.Len() == 3 },
		time.Second, 5*time.Millisecond)

	n, err := g.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
