// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package deleteroom

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

func (h *Handler) DeleteRoom(ctx context.Context, req *clinicapi.DeleteRoomRequest) (*clinicapi.DeleteRoomResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.directory.Delete(ctx, req.RoomID, p.UID); err != nil {
		return nil, err
	}
	return &clinicapi.DeleteRoomResponse{}, nil
}
