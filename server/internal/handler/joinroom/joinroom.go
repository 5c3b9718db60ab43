// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package joinroom

import (
	"context"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
)

func NewHandler(directory *rooms.Directory) *Handler {
	return &Handler{
		directory: directory,
	}
}

type Handler struct {
	directory *rooms.Directory
}

func (h *Handler) JoinRoom(ctx context.Context, req *clinicapi.JoinRoomRequest) (*clinicapi.JoinRoomResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	room, alreadyMember, err := h.directory.Join(ctx, req.Code, p.UID)
	if err != nil {
		return nil, err
	}
	return &clinicapi.JoinRoomResponse{
		Room:          room,
		AlreadyMember: alreadyMember,
	}, nil
}
