package signal

import (
	"errors"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage())
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(sess *core.Session, c *WsSignalConn) {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()
	reason := orch.ReasonClosed
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("readPump panic")
			c.CloseWithCode(websocket.CloseInternalServerErr, "Server error")
			reason = orch.ReasonError
		}
		logger.Info().Str("reason", reason).Msg("readPump closing")
		ctl.Orch.Cleanup(sess, reason)
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	deadline := ctl.opts.PongWait
	if ctl.opts.HandshakeTimeout > 0 {
		deadline = ctl.opts.HandshakeTimeout
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		logger.Warn().Err(err).Msg("handshake read error")
		return
	}
	if !ctl.handshake(sess, c, data) {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("readPump read error")
			} else {
				logger.Info().Err(err).Msg("socket closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		if !ctl.handleSignal(sess, c, data) {
			return
		}
	}
}

type authRequest struct {
	Password string `json:"password"`
	Name     string `json:"name"`
}

// handshake authenticates the session from its first frame. It reports
// whether the connection may proceed to the message loop.
func (ctl *SignalWSController) handshake(sess *core.Session, c *WsSignalConn, data []byte) bool {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()

	if ctl.Limiter != nil && !ctl.Limiter.Allow(remoteHost(sess.RemoteAddr)) {
		logger.Warn().Str("remote", sess.RemoteAddr).Msg("auth rate limited")
		orch.Send(c, orch.ErrorNotice("Too many authentication attempts. Try again later."))
		c.CloseWithCode(websocket.ClosePolicyViolation, "Too many authentication attempts")
		return false
	}

	var req authRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		logger.Warn().Err(err).Msg("bad auth payload")
		c.CloseWithCode(websocket.CloseUnsupportedData, "Invalid JSON format")
		return false
	}
	logger.Info().Str("name", req.Name).Msg("auth attempt")

	err := ctl.Orch.Authenticate(sess, req.Password, req.Name)
	switch {
	case err == nil:
		return true
	case errors.Is(err, orch.ErrWrongSecret):
		return false
	case errors.Is(err, orch.ErrNotPending):
		logger.Warn().Err(err).Msg("handshake on a session that is no longer pending")
		c.CloseWithCode(websocket.ClosePolicyViolation, "Unexpected handshake")
		return false
	case errors.Is(err, orch.ErrInvalidName):
		orch.Send(c, orch.ErrorNotice(err.Error()))
		c.CloseWithCode(websocket.ClosePolicyViolation, "Invalid name")
		return false
	default:
		logger.Error().Err(err).Msg("authenticate")
		c.CloseWithCode(websocket.CloseInternalServerErr, "Server error")
		return false
	}
}

// handleSignal dispatches one post-handshake frame. It reports whether the
// connection stays open.
func (ctl *SignalWSController) handleSignal(sess *core.Session, c *WsSignalConn, data []byte) bool {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()

	var env struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(data, &env); err != nil {
		logger.Error().Err(err).Msg("invalid JSON, closing")
		c.CloseWithCode(websocket.CloseUnsupportedData, "Invalid JSON format")
		return false
	}

	switch st := ctl.Orch.Status(sess); st {
	case domain.StatusAuthorized:
	case domain.StatusPending:
		logger.Warn().Str("type", env.Type).Msg("ignoring message from pending client")
		orch.Send(c, orch.PendingNotice())
		return true
	default:
		logger.Error().Str("status", string(st)).Msg("message in unexpected status, closing")
		return false
	}

	logger.Debug().Str("type", env.Type).Msg("signal")
	switch env.Type {
	case orch.TypeOffer:
		ctl.handleOffer(sess, c, data)
	case orch.TypeAnswer:
		ctl.handleAnswer(sess, c, data)
	case orch.TypeCandidate:
		ctl.handleCandidate(sess, c, data)
	case "join_channel":
		ctl.handleJoinChannel(sess, c, data)
	case "update_listen_channels":
		ctl.handleUpdateListenChannels(sess, c, data)
	case orch.TypeEcho:
		ctl.handleEcho(c, data)
	default:
		logger.Warn().Str("type", env.Type).Msg("unknown signal")
		orch.Send(c, orch.ErrorNotice("Unknown message type: "+env.Type))
	}
	return true
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
