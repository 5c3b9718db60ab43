// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package session runs the state of one connected client: its room list,
// the active room and its live message window, and automatic read receipts.
//
// All state is owned by the goroutine in Run. Store calls run in the
// background and hand their results back to that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"connectrpc.com/connect"
	"github.com/wandb/parallel"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/messages"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
	"github.com/curioswitch/clinicchat/server/internal/store"
	"github.com/curioswitch/clinicchat/server/internal/summarizer"
)

// Command types sent by the client.
const (
	CommandSelectRoom = "selectRoom"
	CommandCreateRoom = "createRoom"
	CommandJoinRoom   = "joinRoom"
	CommandDeleteRoom = "deleteRoom"
	CommandSend       = "send"
	CommandSummarize  = "summarize"
	CommandSignOut    = "signOut"
)

// Event types sent to the client.
const (
	EventUser        = "user"
	EventRooms       = "rooms"
	EventActiveRoom  = "activeRoom"
	EventMessages    = "messages"
	EventRoomCreated = "roomCreated"
	EventRoomJoined  = "roomJoined"
	EventRoomDeleted = "roomDeleted"
	EventSent        = "sent"
	EventSummary     = "summary"
	EventError       = "error"
	EventSignedOut   = "signedOut"
)

// Command is a request from the client. Only the fields relevant to Type are
// set.
type Command struct {
	Type string `json:"type"`

	// RequestID is echoed back in the events answering the command.
	RequestID string `json:"requestId,omitzero"`

	RoomID    string `json:"roomId,omitzero"`
	Name      string `json:"name,omitzero"`
	Code      string `json:"code,omitzero"`
	Text      string `json:"text,omitzero"`
	ImageURL  string `json:"imageUrl,omitzero"`
	Important bool   `json:"important,omitzero"`
}

// Event is pushed to the client. Only the fields relevant to Type are set.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitzero"`

	User          *clinicchatdb.User            `json:"user,omitzero"`
	Rooms         []clinicchatdb.ChatRoom       `json:"rooms,omitzero"`
	Room          *clinicchatdb.ChatRoom        `json:"room,omitzero"`
	RoomID        string                        `json:"roomId,omitzero"`
	AlreadyMember bool                          `json:"alreadyMember,omitzero"`
	Messages      []clinicchatdb.Message        `json:"messages,omitzero"`
	Message       *clinicchatdb.Message         `json:"message,omitzero"`
	Summary       *clinicchatdb.SummaryResponse `json:"summary,omitzero"`

	// Code and Error describe a failed command.
	Code  string `json:"code,omitzero"`
	Error string `json:"error,omitzero"`
}

// New returns a Session acting as user.
func New(directory *rooms.Directory, stream *messages.Stream, sum *summarizer.Summarizer, user clinicchatdb.User) *Session {
	return &Session{
		directory:  directory,
		stream:     stream,
		summarizer: sum,
		user:       user,
		results:    make(chan func(ctx context.Context)),
		marking:    map[string]struct{}{},
		deleted:    map[string]struct{}{},
	}
}

// Session is the state of one client. Run must be called at most once.
type Session struct {
	directory  *rooms.Directory
	stream     *messages.Stream
	summarizer *summarizer.Summarizer
	user       clinicchatdb.User

	exec    parallel.Executor
	results chan func(ctx context.Context)
	events  chan<- Event

	rooms      []clinicchatdb.ChatRoom
	activeRoom *clinicchatdb.ChatRoom
	msgSub     *store.Subscription[[]clinicchatdb.Message]
	window     []clinicchatdb.Message

	// marking holds messages of the active room with a read mark in flight.
	marking map[string]struct{}

	// deleted holds rooms this session deleted, which may still appear in a
	// stale room list.
	deleted map[string]struct{}
}

// Run processes commands and store updates until commands is closed, the
// client signs out or ctx is done. Every subscription is closed before Run
// returns.
func (s *Session) Run(ctx context.Context, commands <-chan Command, events chan<- Event) error {
	ctx, cancel := context.WithCancel(ctx)
	s.exec = parallel.Unlimited(ctx)
	s.events = events

	roomsSub, err := s.directory.ListMine(ctx, s.user.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("session: listing rooms: %w", err)
	}

	defer func() {
		cancel()
		s.exec.Wait()
		if s.msgSub != nil {
			s.msgSub.Close()
			s.msgSub = nil
		}
		roomsSub.Close()
	}()

	user := s.user
	s.emit(ctx, Event{Type: EventUser, User: &user})

	for {
		var msgUpdates <-chan []clinicchatdb.Message
		if s.msgSub != nil {
			msgUpdates = s.msgSub.Updates()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if cmd.Type == CommandSignOut {
				s.emit(ctx, Event{Type: EventSignedOut, RequestID: cmd.RequestID})
				return nil
			}
			s.handle(ctx, cmd)
		case list, ok := <-roomsSub.Updates():
			if !ok {
				return fmt.Errorf("session: room subscription ended: %w", roomsSub.Err())
			}
			s.onRooms(ctx, list)
		case window, ok := <-msgUpdates:
			if !ok {
				slog.WarnContext(ctx, "session: message subscription ended", "room", s.activeRoom.ID, "error", s.msgSub.Err())
				s.msgSub = nil
				continue
			}
			s.onMessages(ctx, window)
		case done := <-s.results:
			done(ctx)
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CommandSelectRoom:
		idx := slices.IndexFunc(s.rooms, func(r clinicchatdb.ChatRoom) bool { return r.ID == cmd.RoomID })
		if idx < 0 {
			s.emitError(ctx, cmd.RequestID, connect.NewError(connect.CodeNotFound, fmt.Errorf("session: room %s is not in the room list", cmd.RoomID)))
			return
		}
		room := s.rooms[idx]
		s.setActive(ctx, &room)
	case CommandCreateRoom:
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			room, err := s.directory.Create(ctx, cmd.Name, s.user.ID)
			return func(ctx context.Context) {
				if err != nil {
					s.emitError(ctx, cmd.RequestID, err)
					return
				}
				s.emit(ctx, Event{Type: EventRoomCreated, RequestID: cmd.RequestID, Room: &room})
				s.setActive(ctx, &room)
			}
		})
	case CommandJoinRoom:
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			room, already, err := s.directory.Join(ctx, cmd.Code, s.user.ID)
			return func(ctx context.Context) {
				if err != nil {
					s.emitError(ctx, cmd.RequestID, err)
					return
				}
				s.emit(ctx, Event{Type: EventRoomJoined, RequestID: cmd.RequestID, Room: &room, AlreadyMember: already})
				s.setActive(ctx, &room)
			}
		})
	case CommandDeleteRoom:
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			err := s.directory.Delete(ctx, cmd.RoomID, s.user.ID)
			return func(ctx context.Context) {
				if err != nil {
					s.emitError(ctx, cmd.RequestID, err)
					return
				}
				s.deleted[cmd.RoomID] = struct{}{}
				s.emit(ctx, Event{Type: EventRoomDeleted, RequestID: cmd.RequestID, RoomID: cmd.RoomID})
				if s.activeRoom != nil && s.activeRoom.ID == cmd.RoomID {
					s.setActive(ctx, nil)
					s.autoSelect(ctx)
				}
			}
		})
	case CommandSend:
		roomID := cmd.RoomID
		if roomID == "" && s.activeRoom != nil {
			roomID = s.activeRoom.ID
		}
		if roomID == "" {
			s.emitError(ctx, cmd.RequestID, connect.NewError(connect.CodeFailedPrecondition, errors.New("session: no active room")))
			return
		}
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			msg, err := s.stream.Send(ctx, roomID, s.user, cmd.Text, cmd.ImageURL, cmd.Important)
			return func(ctx context.Context) {
				if errors.Is(err, messages.ErrEmptyMessage) {
					return
				}
				if err != nil {
					s.emitError(ctx, cmd.RequestID, err)
					return
				}
				s.emit(ctx, Event{Type: EventSent, RequestID: cmd.RequestID, Message: &msg})
			}
		})
	case CommandSummarize:
		window := slices.Clone(s.window)
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			res := s.summarizer.Summarize(ctx, window)
			return func(ctx context.Context) {
				s.emit(ctx, Event{Type: EventSummary, RequestID: cmd.RequestID, Summary: &res})
			}
		})
	default:
		s.emitError(ctx, cmd.RequestID, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session: unknown command %q", cmd.Type)))
	}
}

func (s *Session) onRooms(ctx context.Context, list []clinicchatdb.ChatRoom) {
	wasListed := s.activeRoom != nil && s.listed(s.activeRoom.ID)
	s.rooms = list
	s.emit(ctx, Event{Type: EventRooms, Rooms: nonNil(list)})

	// A room that was never listed may be one this session just created or
	// joined whose listing has not arrived yet.
	if s.activeRoom != nil && wasListed && !s.listed(s.activeRoom.ID) {
		s.setActive(ctx, nil)
	}
	s.autoSelect(ctx)
}

// autoSelect makes the newest room active when none is.
func (s *Session) autoSelect(ctx context.Context) {
	if s.activeRoom != nil {
		return
	}
	for _, r := range s.rooms {
		if _, ok := s.deleted[r.ID]; ok {
			continue
		}
		s.setActive(ctx, &r)
		return
	}
}

func (s *Session) listed(roomID string) bool {
	return slices.ContainsFunc(s.rooms, func(r clinicchatdb.ChatRoom) bool { return r.ID == roomID })
}

// setActive switches the active room, closing the subscription of the
// previous one before subscribing to the new one. A nil room clears the
// selection.
func (s *Session) setActive(ctx context.Context, room *clinicchatdb.ChatRoom) {
	if room != nil && s.activeRoom != nil && room.ID == s.activeRoom.ID {
		return
	}
	if room == nil && s.activeRoom == nil {
		return
	}

	if s.msgSub != nil {
		s.msgSub.Close()
		s.msgSub = nil
	}
	s.window = nil
	clear(s.marking)
	s.activeRoom = room

	if room == nil {
		s.emit(ctx, Event{Type: EventActiveRoom})
		return
	}
	s.emit(ctx, Event{Type: EventActiveRoom, Room: room, RoomID: room.ID})

	roomID := room.ID
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		sub, err := s.stream.Subscribe(ctx, roomID, s.user.ID)
		return func(ctx context.Context) {
			stale := s.activeRoom == nil || s.activeRoom.ID != roomID || s.msgSub != nil
			if err != nil {
				if !stale {
					s.emitError(ctx, "", err)
				}
				return
			}
			if stale {
				sub.Close()
				return
			}
			s.msgSub = sub
		}
	})
}

func (s *Session) onMessages(ctx context.Context, window []clinicchatdb.Message) {
	roomID := s.activeRoom.ID
	s.window = window
	s.emit(ctx, Event{Type: EventMessages, RoomID: roomID, Messages: nonNil(window)})

	for _, m := range messages.Unread(window, s.user.ID) {
		if _, ok := s.marking[m.ID]; ok {
			continue
		}
		s.marking[m.ID] = struct{}{}
		msgID := m.ID
		s.async(ctx, func(ctx context.Context) func(context.Context) {
			err := s.stream.MarkRead(ctx, roomID, msgID, s.user.ID)
			return func(ctx context.Context) {
				if err == nil {
					return
				}
				slog.WarnContext(ctx, "session: failed to mark message read", "room", roomID, "message", msgID, "error", err)
				if s.activeRoom != nil && s.activeRoom.ID == roomID {
					// Retried on the next snapshot.
					delete(s.marking, msgID)
				}
			}
		})
	}
}

// async runs op in the background and applies the returned function on the
// session goroutine. The result is dropped if the session ends first.
func (s *Session) async(ctx context.Context, op func(ctx context.Context) func(context.Context)) {
	s.exec.Go(func(ctx context.Context) {
		done := op(ctx)
		select {
		case s.results <- done:
		case <-ctx.Done():
		}
	})
}

func (s *Session) emit(ctx context.Context, e Event) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

func (s *Session) emitError(ctx context.Context, requestID string, err error) {
	code := connect.CodeOf(err)
	if code == connect.CodeUnknown || code == connect.CodeInternal {
		slog.ErrorContext(ctx, "session: command failed", "error", err)
	}
	s.emit(ctx, Event{
		Type:      EventError,
		RequestID: requestID,
		Code:      code.String(),
		Error:     err.Error(),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
