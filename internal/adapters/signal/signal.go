package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit        int64
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:        64 * 1024,
		PingPeriod:       20 * time.Second,
		PongWait:         45 * time.Second,
		WriteWait:        5 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		SendBuffer:       64,
	}
}

// SignalWSController runs the signaling protocol for every socket.
type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 || opts.PongWait <= 0 || opts.PingPeriod >= opts.PongWait {
		def := DefaultOptions()
		opts.PingPeriod, opts.PongWait = def.PingPeriod, def.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultOptions().WriteWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	return &SignalWSController{Orch: o, Limiter: limiter, opts: opts}
}

// WsSignalConn is the core.SignalConnection of one socket. Frames are queued
// and written by writePump; closing lets queued frames flush before the close
// frame goes out.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.CloseWithCode(websocket.CloseNormalClosure, "")
}

func (c *WsSignalConn) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsSignalConn) closeMessage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the session requested as clientID.
func (ctl *SignalWSController) HandleSignal(c *gin.Context, clientID string) {
	logger := log.With().Str("module", "signal").Str("sid", clientID).Logger()
	logger.Info().Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	go ctl.writePump(conn)

	sess, err := ctl.Orch.Connect(clientID, conn, c.Request.RemoteAddr)
	if err != nil {
		logger.Warn().Err(err).Msg("connect refused")
		orch.Send(conn, orch.ErrorNotice(err.Error()))
		conn.CloseWithCode(websocket.ClosePolicyViolation, "Connection refused")
		return
	}
	go ctl.readPump(sess, conn)
}
