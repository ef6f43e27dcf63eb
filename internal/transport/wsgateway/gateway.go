package wsgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/sim-coordinator/internal/model"
	"github.com/rickgao/sim-coordinator/internal/queue"
	"github.com/rickgao/sim-coordinator/internal/transport"
)

// Gateway accepts worker connections and implements transport.Transport.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	inbound *queue.GrowableBuffer[model.Envelope]

	mu           sync.RWMutex
	peers        map[model.WorkerID]*peer
	closed       bool
	onDisconnect func(model.WorkerID)
}

var _ transport.Transport = (*Gateway)(nil)
var _ transport.Drainer = (*Gateway)(nil)
var _ http.Handler = (*Gateway)(nil)

// peer is one worker connection.
type peer struct {
	id     model.WorkerID
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

type handle struct {
	id model.WorkerID
}

func (h handle) Channel() string { return transport.ChannelName(h.id) }

// New creates a Gateway.
func New(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws/"
	}
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbound: queue.NewGrowableBuffer[model.Envelope](cfg.InboundBufferSize),
		peers:   make(map[model.WorkerID]*peer),
	}
}

// ServeHTTP upgrades a worker connection at <Path><workerID> and reads its
// frames until it disconnects. A reconnecting worker replaces its old connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, g.cfg.Path)
	id, err := model.ParseWorkerID(raw)
	if err != nil || raw == r.URL.Path {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", "worker_id", id, "error", err)
		return
	}

	p := &peer{
		id:     id,
		conn:   conn,
		logger: g.logger.With("worker_id", id),
		done:   make(chan struct{}),
	}
	if g.cfg.ReadLimit > 0 {
		conn.SetReadLimit(g.cfg.ReadLimit)
	}

	if err := g.attach(p); err != nil {
		p.close(websocket.CloseGoingAway, "gateway closed")
		return
	}
	defer g.detach(p)

	p.logger.Info("worker connected", "remote_addr", r.RemoteAddr)

	go g.pingLoop(p)
	g.readLoop(p)
}

// CreateChannel binds id's channel to its live connection.
func (g *Gateway) CreateChannel(ctx context.Context, id model.WorkerID) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, fmt.Errorf("%w: %v", transport.ErrChannelCreateFailed, transport.ErrTransportClosed)
	}
	if _, ok := g.peers[id]; !ok {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrChannelCreateFailed, id, ErrWorkerOffline)
	}
	return handle{id: id}, nil
}

// Send writes env to the worker's current connection.
func (g *Gateway) Send(ctx context.Context, h transport.Handle, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, err)
	}
	wh, ok := h.(handle)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", transport.ErrTransportFailure, h)
	}

	data, err := EncodeFrame(env)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, err)
	}

	g.mu.RLock()
	p, ok := g.peers[wh.id]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s: %v", transport.ErrTransportFailure, wh.id, ErrWorkerOffline)
	}

	if err := p.write(data, g.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportFailure, err)
	}
	return nil
}

// Receive blocks until a worker frame is available.
func (g *Gateway) Receive(ctx context.Context) (model.Envelope, error) {
	env, err := g.inbound.ReceiveContext(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return model.Envelope{}, transport.ErrTransportClosed
	}
	return env, err
}

// Drain discards frames received but not yet dispatched.
func (g *Gateway) Drain(ctx context.Context) (int, error) {
	return len(g.inbound.DrainTo(0)), nil
}

// Close disconnects every worker and unblocks Receive.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	peers := make([]*peer, 0, len(g.peers))
	for _, p := range g.peers {
		peers = append(peers, p)
	}
	g.mu.Unlock()

	for _, p := range peers {
		p.close(websocket.CloseGoingAway, "coordinator shutting down")
	}
	g.inbound.Close()
	return nil
}

// OnDisconnect sets fn to be called when a worker's live connection ends.
// It is not called for a connection replaced by a reconnect, nor once the
// gateway is closed.
func (g *Gateway) OnDisconnect(fn func(model.WorkerID)) {
	g.mu.Lock()
	g.onDisconnect = fn
	g.mu.Unlock()
}

// Connected returns the ids of workers with a live connection.
func (g *Gateway) Connected() []model.WorkerID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]model.WorkerID, 0, len(g.peers))
	for id := range g.peers {
		ids = append(ids, id)
	}
	return ids
}

// ListenAndServe serves the gateway on cfg.ListenAddr until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.cfg.Path, g)

	server := &http.Server{
		Addr:    g.cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("websocket gateway listening", "addr", g.cfg.ListenAddr, "path", g.cfg.Path)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) attach(p *peer) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return transport.ErrTransportClosed
	}
	old := g.peers[p.id]
	g.peers[p.id] = p
	g.mu.Unlock()

	if old != nil {
		old.logger.Info("replacing previous connection")
		old.close(websocket.ClosePolicyViolation, "replaced by new connection")
	}
	return nil
}

func (g *Gateway) detach(p *peer) {
	g.mu.Lock()
	current := g.peers[p.id] == p
	if current {
		delete(g.peers, p.id)
	}
	notify := current && !g.closed
	fn := g.onDisconnect
	g.mu.Unlock()

	p.close(websocket.CloseNormalClosure, "")
	p.logger.Info("worker disconnected")

	if notify && fn != nil {
		fn(p.id)
	}
}

// readLoop feeds the peer's frames into the inbound queue until the connection ends.
func (g *Gateway) readLoop(p *peer) {
	if g.cfg.PongTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		})
	}

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					p.logger.Debug("read failed", "error", err)
				}
			}
			return
		}
		if g.cfg.PongTimeout > 0 {
			p.conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
		}

		env, err := DecodeFrame(data)
		if err != nil {
			p.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if !g.inbound.Send(env) {
			return
		}
	}
}

// pingLoop keeps the connection alive until the peer closes.
func (g *Gateway) pingLoop(p *peer) {
	if g.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(g.cfg.WriteTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				p.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

func (p *peer) write(data []byte, timeout time.Duration) error {
	select {
	case <-p.done:
		return ErrNotConnected
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) close(code int, reason string) {
	p.once.Do(func() {
		close(p.done)
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		p.conn.Close()
	})
}
