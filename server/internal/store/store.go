// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package store is the boundary to the document store holding users, rooms
// and messages. Documents are decoded and validated here, and malformed
// documents are skipped rather than returned.
package store

import (
	"context"
	"errors"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrCodeTaken is returned by CreateRoom when the room's invite code is
	// already reserved by another room.
	ErrCodeTaken = errors.New("store: invite code already taken")
)

// UserUpdater computes the user to store from the currently stored one.
// exists is false when the user has never been stored.
type UserUpdater func(existing clinicchatdb.User, exists bool) clinicchatdb.User

// Store persists clinic chat data. All mutations are idempotent or
// monotonic so concurrent writers from different clients are safe.
type Store interface {
	// GetUser returns the user with the ID, or ErrNotFound.
	GetUser(ctx context.Context, userID string) (clinicchatdb.User, error)

	// UpdateUser atomically reads the user and writes the result of update.
	UpdateUser(ctx context.Context, userID string, update UserUpdater) (clinicchatdb.User, error)

	// CreateRoom stores a new room and reserves its invite code, returning
	// the new room ID. If the code is reserved, returns ErrCodeTaken and
	// nothing is written.
	CreateRoom(ctx context.Context, room clinicchatdb.ChatRoom) (string, error)

	// GetRoom returns the room with the ID, or ErrNotFound.
	GetRoom(ctx context.Context, roomID string) (clinicchatdb.ChatRoom, error)

	// FindRoomByCode returns the room with the invite code, or ErrNotFound.
	FindRoomByCode(ctx context.Context, code string) (clinicchatdb.ChatRoom, error)

	// AddParticipant adds the user to the room's participants if not already
	// present.
	AddParticipant(ctx context.Context, roomID string, userID string) error

	// DeleteRoom deletes the room, its invite code reservation and all of its
	// messages.
	DeleteRoom(ctx context.Context, roomID string) error

	// WatchRooms subscribes to the rooms the user participates in, newest
	// first.
	WatchRooms(ctx context.Context, userID string) (*Subscription[[]clinicchatdb.ChatRoom], error)

	// AppendMessage adds a message to the room, returning the new message ID.
	AppendMessage(ctx context.Context, roomID string, msg clinicchatdb.Message) (string, error)

	// AddReader adds the user to the message's read list if not already
	// present.
	AddReader(ctx context.Context, roomID string, messageID string, userID string) error

	// RecentMessages returns the newest limit messages of the room in
	// ascending timestamp order.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]clinicchatdb.Message, error)

	// WatchMessages subscribes to the newest limit messages of the room in
	// ascending timestamp order. Every change delivers the full window.
	WatchMessages(ctx context.Context, roomID string, limit int) (*Subscription[[]clinicchatdb.Message], error)
}
