/*
Package handler provides HTTP handler functions for room status checks.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"linkroom/internal/app/directory"
	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/randx"
	"linkroom/internal/pkg/resp"
)

// HandleGetRoom reports whether a room exists, so the UI can validate a code before joining.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := randx.NormalizeRoomCode(chi.URLParam(r, "code"))
		if !randx.IsValidRoomCode(code) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		room, err := deps.Directory.Lookup(r.Context(), code)
		if errors.Is(err, directory.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		}
		if err != nil {
			logx.Error(err, "Room lookup failed", "room_code", code)
			resp.RespondError(w, r, errs.Wrap(errs.ErrDirectoryUnavailable, err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"code":      room.Code,
			"language":  room.Language,
			"createdAt": room.CreatedAt,
		})
	}
}
