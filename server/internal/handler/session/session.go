// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wandb/parallel"

	"github.com/curioswitch/clinicchat/server/internal/httpapi"
	"github.com/curioswitch/clinicchat/server/internal/identity"
	"github.com/curioswitch/clinicchat/server/internal/messages"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
	chatsession "github.com/curioswitch/clinicchat/server/internal/session"
	"github.com/curioswitch/clinicchat/server/internal/summarizer"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Commands may carry an image data URL.
	maxCommandBytes = 8 << 20
)

// NewHandler returns a Handler.
func NewHandler(binder *identity.Binder, directory *rooms.Directory, stream *messages.Stream, sum *summarizer.Summarizer) *Handler {
	return &Handler{
		binder:    binder,
		directory: directory,
		stream:    stream,
		sum:       sum,
	}
}

// Handler serves client sessions over WebSocket. Commands are read as JSON
// text messages and events written the same way.
type Handler struct {
	binder    *identity.Binder
	directory *rooms.Directory
	stream    *messages.Stream
	sum       *summarizer.Summarizer

	upgrader websocket.Upgrader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.binder.Current(ctx)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		slog.WarnContext(ctx, "session: upgrading connection", "error", err)
		return
	}
	defer conn.Close()

	sess := &wsSession{
		conn:     conn,
		session:  chatsession.New(h.directory, h.stream, h.sum, user),
		commands: make(chan chatsession.Command),
		events:   make(chan chatsession.Event),
	}
	if err := sess.run(ctx); err != nil {
		slog.ErrorContext(ctx, "session: connection failed", "user", user.ID, "error", err)
	}
}

type wsSession struct {
	conn     *websocket.Conn
	session  *chatsession.Session
	commands chan chatsession.Command
	events   chan chatsession.Event
}

func (s *wsSession) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unblocks a pending read once the session is over.
	context.AfterFunc(ctx, func() { _ = s.conn.Close() })

	grp := parallel.ErrGroup(parallel.Unlimited(ctx))
	grp.Go(s.receiveLoop)
	grp.Go(func(ctx context.Context) error {
		defer close(s.events)
		err := s.session.Run(ctx, s.commands, s.events)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	grp.Go(func(ctx context.Context) error {
		defer cancel()
		return s.sendLoop(ctx)
	})
	return grp.Wait()
}

func (s *wsSession) receiveLoop(ctx context.Context) error {
	defer close(s.commands)

	s.conn.SetReadLimit(maxCommandBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd chatsession.Command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.WarnContext(ctx, "session: client closed connection", "code", closeErr.Code, "error", err)
				}
				return nil
			}
			if isDecodeError(err) {
				slog.WarnContext(ctx, "session: ignoring malformed command", "error", err)
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.WarnContext(ctx, "session: client stopped responding", "error", err)
				return nil
			}
			return fmt.Errorf("session: reading command: %w", err)
		}

		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *wsSession) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-s.events:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return nil
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(e); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("session: writing %s event: %w", e.Type, err)
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("session: writing ping: %w", err)
			}
		}
	}
}

// isDecodeError returns whether a complete message was read but was not a
// valid command. The connection is still usable after such errors.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
