// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package uploadimage

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/imageintake"
)

func NewHandler(intake *imageintake.Intake) *Handler {
	return &Handler{
		intake: intake,
	}
}

type Handler struct {
	intake *imageintake.Intake
}

func (h *Handler) UploadImage(ctx context.Context, req *clinicapi.UploadImageRequest) (*clinicapi.UploadImageResponse, error) {
	url, err := h.intake.Process(ctx, req.DataURL)
	if errors.Is(err, imageintake.ErrInvalidImage) {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err != nil {
		return nil, err
	}
	return &clinicapi.UploadImageResponse{ImageURL: url}, nil
}
