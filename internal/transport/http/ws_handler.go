package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/auth"
	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/proto"
	"github.com/parley-chat/parley-server/internal/utils"
)

// wsDeps bundles the core collaborators the WS layer dispatches into.
type wsDeps struct {
	dispatcher    *core.Dispatcher
	sessions      *core.SessionManager
	defaultServer string
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	deps         *wsDeps
	authService  *auth.Service
	log          *zerolog.Logger
	eventBuffer  int
	writeTimeout time.Duration
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(dispatcher *core.Dispatcher, sessions *core.SessionManager, authService *auth.Service, defaultServer string, eventBuffer int, writeTimeout time.Duration, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		deps: &wsDeps{
			dispatcher:    dispatcher,
			sessions:      sessions,
			defaultServer: defaultServer,
		},
		authService:  authService,
		log:          logger,
		eventBuffer:  eventBuffer,
		writeTimeout: writeTimeout,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws auth failed")
		stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(utils.NewID(), claims.Username, h.eventBuffer)
	h.deps.sessions.Connect(ctx, client)
	// Disconnect must complete even though the connection context is
	// gone: in-flight store mutations always finish.
	defer h.deps.sessions.Disconnect(context.Background(), client)

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
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		perr, err := dispatchInbound(ctx, h.deps, client, inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Str("type", inbound.Type).Msg("failed to decode inbound")
			return err
		}
		if perr != nil {
			// Errors go back through the client's own event stream so
			// they stay ordered with regular deliveries.
			client.TrySend(&core.Event{
				Name: core.EventError,
				Err:  &core.Error{Code: perr.Code, Message: perr.Msg},
			})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, outboundFromEvent(event))
			cancel()
			if err != nil {
				// A connection that cannot be written to in time is dead.
				h.log.Warn().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
