// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package rooms manages the lifecycle and membership of chat rooms.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v5"
	nanoid "github.com/jaevor/go-nanoid"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/store"
)

// maxCodeAttempts bounds retries when a minted invite code collides with an
// existing room.
const maxCodeAttempts = 5

var (
	ErrEmptyName    = errors.New("rooms: room name is empty")
	ErrRoomNotFound = errors.New("rooms: no room with the invite code")
	ErrNotCreator   = errors.New("rooms: only the creator can delete a room")
)

// Option customizes a Directory.
type Option func(d *Directory)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		d.now = now
	}
}

// WithCodeGenerator sets the function used to mint invite codes.
func WithCodeGenerator(gen func() string) Option {
	return func(d *Directory) {
		d.newCode = gen
	}
}

// WithRetryBackOff sets the backoff between invite code collision retries.
// b is shared by concurrent calls to Create so it must be stateless.
func WithRetryBackOff(b backoff.BackOff) Option {
	return func(d *Directory) {
		d.backOff = b
	}
}

// NewDirectory returns a Directory storing rooms in s.
func NewDirectory(s store.Store, opts ...Option) (*Directory, error) {
	gen, err := nanoid.CustomASCII(clinicchatdb.CodeAlphabet, clinicchatdb.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("rooms: creating code generator: %w", err)
	}
	d := &Directory{
		store:   s,
		now:     time.Now,
		newCode: gen,
		backOff: backoff.NewConstantBackOff(50 * time.Millisecond),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Directory creates, joins, deletes and lists rooms.
type Directory struct {
	store   store.Store
	now     func() time.Time
	newCode func() string
	backOff backoff.BackOff
}

// ListMine subscribes to the rooms the user participates in, newest first.
func (d *Directory) ListMine(ctx context.Context, userID string) (*store.Subscription[[]clinicchatdb.ChatRoom], error) {
	sub, err := d.store.WatchRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rooms: watching rooms: %w", err)
	}
	return sub, nil
}

// Create makes a new room owned by ownerID and returns it. The owner is its
// only participant.
func (d *Directory) Create(ctx context.Context, name string, ownerID string) (clinicchatdb.ChatRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return clinicchatdb.ChatRoom{}, connect.NewError(connect.CodeInvalidArgument, ErrEmptyName)
	}

	room, err := backoff.Retry(ctx, func() (clinicchatdb.ChatRoom, error) {
		room := clinicchatdb.ChatRoom{
			Name:         name,
			Code:         d.newCode(),
			CreatedBy:    ownerID,
			CreatedAt:    d.now(),
			Participants: []string{ownerID},
		}
		id, err := d.store.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrCodeTaken) {
			slog.InfoContext(ctx, "rooms: invite code collision, retrying", "code", room.Code)
			return clinicchatdb.ChatRoom{}, err
		}
		if err != nil {
			return clinicchatdb.ChatRoom{}, backoff.Permanent(err)
		}
		room.ID = id
		return room, nil
	}, backoff.WithBackOff(d.backOff), backoff.WithMaxTries(maxCodeAttempts))
	if err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("rooms: creating room: %w", err)
	}
	return room, nil
}

// Join adds the user to the room with the invite code. The code is matched
// case-insensitively. alreadyMember is true when the user was already a
// participant, in which case nothing is written.
func (d *Directory) Join(ctx context.Context, code string, userID string) (room clinicchatdb.ChatRoom, alreadyMember bool, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !clinicchatdb.ValidCode(code) {
		return clinicchatdb.ChatRoom{}, false, connect.NewError(connect.CodeNotFound, ErrRoomNotFound)
	}

	room, err = d.store.FindRoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return clinicchatdb.ChatRoom{}, false, connect.NewError(connect.CodeNotFound, ErrRoomNotFound)
	}
	if err != nil {
		return clinicchatdb.ChatRoom{}, false, fmt.Errorf("rooms: finding room by code: %w", err)
	}

	if room.HasParticipant(userID) {
		return room, true, nil
	}

	if err := d.store.AddParticipant(ctx, room.ID, userID); err != nil {
		return clinicchatdb.ChatRoom{}, false, fmt.Errorf("rooms: adding participant: %w", err)
	}
	room.Participants = append(room.Participants, userID)
	return room, false, nil
}

// Delete removes the room and all of its messages. Only the room's creator
// may delete it.
func (d *Directory) Delete(ctx context.Context, roomID string, requesterID string) error {
	room, err := d.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != requesterID {
		return connect.NewError(connect.CodePermissionDenied, ErrNotCreator)
	}
	if err := d.store.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("rooms: deleting room: %w", err)
	}
	return nil
}

// Get returns the room with the ID.
func (d *Directory) Get(ctx context.Context, roomID string) (clinicchatdb.ChatRoom, error) {
	room, err := d.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return clinicchatdb.ChatRoom{}, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return clinicchatdb.ChatRoom{}, fmt.Errorf("rooms: getting room: %w", err)
	}
	return room, nil
}
