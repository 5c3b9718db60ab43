// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package messages appends messages to rooms, tracks read receipts and
// serves the live window of recent messages.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/notifier"
	"github.com/curioswitch/clinicchat/server/internal/store"
)

// WindowSize is the number of most recent messages in a room's live window.
const WindowSize = 100

var (
	// ErrEmptyMessage is returned by Send when there is neither text nor an
	// image to send. Nothing is written.
	ErrEmptyMessage = errors.New("messages: message is empty")

	ErrNotParticipant = errors.New("messages: user is not a participant of the room")
)

// Option customizes a Stream.
type Option func(s *Stream)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		s.now = now
	}
}

// NewStream returns a Stream storing messages in st and mirroring sent
// messages to n.
func NewStream(st store.Store, n notifier.Notifier, opts ...Option) *Stream {
	s := &Stream{
		store:    st,
		notifier: n,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream sends and reads messages of rooms.
type Stream struct {
	store    store.Store
	notifier notifier.Notifier
	now      func() time.Time
}

// Subscribe returns the live window of the newest messages of the room,
// oldest first. The user must be a participant.
func (s *Stream) Subscribe(ctx context.Context, roomID string, userID string) (*store.Subscription[[]clinicchatdb.Message], error) {
	if _, err := s.participantRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	sub, err := s.store.WatchMessages(ctx, roomID, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("messages: watching messages: %w", err)
	}
	return sub, nil
}

// Recent returns the current window of the room. The user must be a
// participant.
func (s *Stream) Recent(ctx context.Context, roomID string, userID string) ([]clinicchatdb.Message, error) {
	if _, err := s.participantRoom(ctx, roomID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.RecentMessages(ctx, roomID, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("messages: listing messages: %w", err)
	}
	return msgs, nil
}

// Send appends a message from sender to the room. The sender has always read
// their own message. Sent messages are mirrored to the notifier.
func (s *Stream) Send(ctx context.Context, roomID string, sender clinicchatdb.User, text string, imageURL string, important bool) (clinicchatdb.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && imageURL == "" {
		slog.InfoContext(ctx, "messages: ignoring empty message", "room", roomID, "user", sender.ID)
		return clinicchatdb.Message{}, ErrEmptyMessage
	}

	room, err := s.participantRoom(ctx, roomID, sender.ID)
	if err != nil {
		return clinicchatdb.Message{}, err
	}

	msg := clinicchatdb.Message{
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderPhoto: sender.PhotoURL,
		Text:        text,
		ImageURL:    imageURL,
		Timestamp:   s.now().UnixMilli(),
		IsImportant: important,
		ReadBy:      []string{sender.ID},
	}
	id, err := s.store.AppendMessage(ctx, roomID, msg)
	if err != nil {
		return clinicchatdb.Message{}, fmt.Errorf("messages: appending message: %w", err)
	}
	msg.ID = id

	s.notifier.Notify(ctx, notifier.Event{
		Room:      room.Name,
		User:      sender.Name,
		Text:      text,
		Important: important,
	})

	return msg, nil
}

// MarkRead records that the user has seen the message. Marking a message
// more than once has no effect. Only participants of the room may mark its
// messages.
func (s *Stream) MarkRead(ctx context.Context, roomID string, messageID string, userID string) error {
	if _, err := s.participantRoom(ctx, roomID, userID); err != nil {
		return err
	}
	err := s.store.AddReader(ctx, roomID, messageID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return fmt.Errorf("messages: marking read: %w", err)
	}
	return nil
}

// Unread returns the messages in the window written by others that the user
// has not read yet.
func Unread(window []clinicchatdb.Message, userID string) []clinicchatdb.Message {
	var unread []clinicchatdb.Message
	for _, m := range window {
		if m.SenderID == userID || m.IsReadBy(userID) {
			continue
		}
		unread = append(unread, m)
	}
	return unread
}

func (s *Stream) participantRoom(ctx context.Context, roomID string, userID string) (clinicchatdb.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return clinicchatdb.ChatRoom{}, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("messages: getting room: %w", err)
	}
	if !room.HasParticipant(userID) {
		return clinicchatdb.ChatRoom{}, connect.NewError(connect.CodePermissionDenied, ErrNotParticipant)
	}
	return room, nil
}
