// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package identity binds authenticated principals to stored users.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/store"
)

// GuestName is the display name of users whose provider reports none.
const GuestName = "ゲスト"

// AvatarURL returns the generated avatar of a user without a photo. The same
// uid always gets the same avatar.
func AvatarURL(uid string) string {
	return "https://api.dicebear.com/7.x/initials/svg?seed=" + url.QueryEscape(uid)
}

// NewBinder returns a Binder storing users in s.
func NewBinder(s store.Store) *Binder {
	return &Binder{
		store: s,
	}
}

// Binder keeps stored users in sync with the identity provider.
type Binder struct {
	store store.Store
}

// Bind stores the principal as a user and returns it. Fields the provider
// reports overwrite stored ones, and missing fields keep their stored
// values. A user seen for the first time gets placeholders for missing
// fields and the staff role.
func (b *Binder) Bind(ctx context.Context, p auth.Principal) (clinicchatdb.User, error) {
	u, err := b.store.UpdateUser(ctx, p.UID, func(existing clinicchatdb.User, _ bool) clinicchatdb.User {
		return merge(existing, p)
	})
	if err != nil {
		return clinicchatdb.User{}, fmt.Errorf("identity: storing user: %w", err)
	}
	return u, nil
}

// Resolve returns the stored user for the principal, binding it first if it
// has never been stored.
func (b *Binder) Resolve(ctx context.Context, p auth.Principal) (clinicchatdb.User, error) {
	u, err := b.store.GetUser(ctx, p.UID)
	if errors.Is(err, store.ErrNotFound) {
		return b.Bind(ctx, p)
	}
	if err != nil {
		return clinicchatdb.User{}, fmt.Errorf("identity: getting user: %w", err)
	}
	return u, nil
}

// Current returns the stored user acting on the request.
func (b *Binder) Current(ctx context.Context) (clinicchatdb.User, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return clinicchatdb.User{}, err
	}
	return b.Resolve(ctx, p)
}

func merge(existing clinicchatdb.User, p auth.Principal) clinicchatdb.User {
	u := existing
	u.ID = p.UID
	if p.DisplayName != "" {
		u.Name = p.DisplayName
	}
	if p.Email != "" {
		u.Email = p.Email
	}
	if p.PhotoURL != "" {
		u.PhotoURL = p.PhotoURL
	}

	if u.Name == "" {
		u.Name = GuestName
	}
	if u.PhotoURL == "" {
		u.PhotoURL = AvatarURL(p.UID)
	}
	if u.Role == "" {
		u.Role = clinicchatdb.RoleStaff
	}
	return u
}
