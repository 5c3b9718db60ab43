// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/store"
)

func TestBindNewUser(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	b := NewBinder(s)

	u, err := b.Bind(ctx, auth.Principal{
		UID:         "alice",
		DisplayName: "Alice",
		Email:       "alice@example-dental.jp",
		PhotoURL:    "https://example.com/alice.png",
	})
	require.NoError(t, err)

	want := clinicchatdb.User{
		ID:       "alice",
		Name:     "Alice",
		Email:    "alice@example-dental.jp",
		PhotoURL: "https://example.com/alice.png",
		Role:     clinicchatdb.RoleStaff,
	}
	assert.Equal(t, want, u)

	stored, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestBindPlaceholders(t *testing.T) {
	u, err := NewBinder(store.NewMemory()).Bind(context.Background(), auth.Principal{UID: "anon"})
	require.NoError(t, err)

	assert.Equal(t, GuestName, u.Name)
	assert.Equal(t, AvatarURL("anon"), u.PhotoURL)
	assert.Equal(t, AvatarURL("anon"), AvatarURL("anon"))
	assert.NotEqual(t, AvatarURL("anon"), AvatarURL("other"))
	assert.Equal(t, clinicchatdb.RoleStaff, u.Role)
}

func TestBindMerges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	b := NewBinder(s)

	_, err := s.UpdateUser(ctx, "alice", func(clinicchatdb.User, bool) clinicchatdb.User {
		return clinicchatdb.User{
			Name:     "Dr. Alice",
			Email:    "alice@example-dental.jp",
			PhotoURL: "https://example.com/alice.png",
			Role:     clinicchatdb.RoleDoctor,
		}
	})
	require.NoError(t, err)

	// The provider only reports a new email this time.
	u, err := b.Bind(ctx, auth.Principal{UID: "alice", Email: "alice@new-dental.jp"})
	require.NoError(t, err)

	assert.Equal(t, clinicchatdb.User{
		ID:       "alice",
		Name:     "Dr. Alice",
		Email:    "alice@new-dental.jp",
		PhotoURL: "https://example.com/alice.png",
		Role:     clinicchatdb.RoleDoctor,
	}, u)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	b := NewBinder(s)

	u, err := b.Resolve(ctx, auth.Principal{UID: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)

	// Stored values win once bound.
	u, err = b.Resolve(ctx, auth.Principal{UID: "bob", DisplayName: "Robert"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)
}

func TestCurrent(t *testing.T) {
	b := NewBinder(store.NewMemory())

	_, err := b.Current(context.Background())
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UID: "carol", DisplayName: "Carol"})
	u, err := b.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "carol", u.ID)
	assert.Equal(t, "Carol", u.Name)
}
