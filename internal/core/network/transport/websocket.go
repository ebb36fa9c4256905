package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	acceptBacklog  = 16
	readBufferSize = 4096
)

var _ Link = (*wsLink)(nil)

type wsLink struct {
	id     string
	conn   *websocket.Conn
	closed int32

	writeMu sync.Mutex
}

func newWSLink(conn *websocket.Conn) *wsLink {
	conn.SetReadLimit(MaxFrameSize)
	return &wsLink{id: uuid.NewString(), conn: conn}
}

func (l *wsLink) ID() string         { return l.id }
func (l *wsLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

func (l *wsLink) Send(ctx context.Context, env Envelope) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return ErrClosed
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	if err = l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Receive blocks until a frame arrives. Cancel it by closing the link.
func (l *wsLink) Receive(ctx context.Context) (Envelope, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return Envelope{}, ErrClosed
	}
	d, _ := ctx.Deadline()
	_ = l.conn.SetReadDeadline(d)

	messageType, data, err := l.conn.ReadMessage()
	if err != nil {
		if atomic.LoadInt32(&l.closed) == 1 {
			return Envelope{}, ErrClosed
		}
		return Envelope{}, errors.Wrap(err, "failed to read message")
	}
	if messageType != websocket.TextMessage {
		return Envelope{}, errors.Wrap(ErrUnexpected, "binary frame")
	}
	return UnmarshalEnvelope(data)
}

func (l *wsLink) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}

	l.writeMu.Lock()
	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	l.writeMu.Unlock()

	return l.conn.Close()
}

// WebSocketListener upgrades HTTP requests into links. It can be mounted on
// an existing mux through ServeHTTP or run standalone with ListenWebSocket.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	links    chan Link
	done     chan struct{}
	once     sync.Once
	server   *http.Server
	addr     string
}

var _ Listener = (*WebSocketListener)(nil)

func NewWebSocketListener() *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		links: make(chan Link, acceptBacklog),
		done:  make(chan struct{}),
	}
}

// ListenWebSocket serves upgrades on addr at path.
func ListenWebSocket(addr, path string) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	l := NewWebSocketListener()
	mux := http.NewServeMux()
	mux.Handle(path, l)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: writeWait}
	l.addr = ln.Addr().String()

	go func() { _ = l.server.Serve(ln) }()
	return l, nil
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	link := newWSLink(conn)
	select {
	case l.links <- link:
	case <-l.done:
		_ = link.Close()
	}
}

func (l *WebSocketListener) Accept(ctx context.Context) (Link, error) {
	select {
	case link := <-l.links:
		return link, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WebSocketListener) Addr() string { return l.addr }

func (l *WebSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.server != nil {
			err = l.server.Close()
		}
	})
	return err
}

// DialWebSocket connects to a host's websocket endpoint, e.g.
// "ws://127.0.0.1:7400/simcore".
func DialWebSocket(ctx context.Context, url string) (Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	return newWSLink(conn), nil
}
