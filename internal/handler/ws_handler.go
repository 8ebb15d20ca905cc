/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, upgrading
the HTTP connection to WebSocket, and running the connection's room session until it closes.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"linkroom/internal/app/gateway"
	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/limiter"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// createLimiter throttles the rooms a client IP creates across all its connections.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter, createLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Info("WebSocket connection established", "ip", limiter.ClientIP(r))

		allowCreate := func() bool { return createLimiter.Allow(r) }
		gateway.NewClient(conn, deps.NewSession, gateway.WithCreateGuard(allowCreate)).Run(r.Context())
	}
}
