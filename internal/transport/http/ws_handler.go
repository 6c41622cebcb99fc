package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/proto"
)

const helloTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core clients.
// The first frame must be a hello carrying a valid token; everything after
// runs through the hub with per-request acks.
type WSHandler struct {
	hub         *core.Hub
	authService *auth.Service
	log         *zerolog.Logger
	msgsPerMin  int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, logger *zerolog.Logger, msgsPerMin int) stdhttp.Handler {
	return &WSHandler{hub: hub, authService: authService, log: logger, msgsPerMin: msgsPerMin}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client, err := h.admit(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws admission failed")
		conn.Close(websocket.StatusPolicyViolation, "admission failed")
		return
	}
	defer h.hub.Remove(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// admit waits for the hello frame, validates its token, and registers the
// connection with the hub.
func (h *WSHandler) admit(ctx context.Context, conn *websocket.Conn) (*core.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(ctx, conn, &inbound); err != nil {
		return nil, err
	}
	if inbound.Type != proto.InboundTypeHello {
		return nil, errors.New("first frame must be hello")
	}

	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return nil, err
	}
	claims, err := h.authService.ValidateToken(hello.Token)
	if err != nil {
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			ID:    inbound.ID,
			Error: &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"},
		})
		return nil, err
	}

	client, cerr := h.hub.Admit(claims.Username)
	if cerr != nil {
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			ID:    inbound.ID,
			Error: &proto.Error{Code: cerr.Code, Msg: cerr.Message},
		})
		return nil, cerr
	}

	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type: proto.OutboundTypeAck,
		ID:   inbound.ID,
		Data: proto.HelloAck{ConnID: client.ID, User: client.User, Protocol: proto.ProtocolVersion},
	}); err != nil {
		h.hub.Remove(client)
		return nil, err
	}
	return client, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.msgsPerMin)
	stop := make(chan struct{})
	defer close(stop)
	limiter.startReset(stop)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if !limiter.allow() {
			if err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				ID:    inbound.ID,
				Error: &proto.Error{Code: "rate_limited", Msg: "too many requests"},
			}); err != nil {
				return err
			}
			continue
		}

		out := h.dispatch(ctx, client, inbound)
		if err := wsjson.Write(ctx, conn, out); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
