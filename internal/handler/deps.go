package handler

import (
	"linkroom/internal/app/directory"
	"linkroom/internal/app/realtime"
	"linkroom/internal/app/session"
	"linkroom/internal/configs"
)

type AppDeps struct {
	Config    *configs.AppConfig
	Directory directory.Directory
	Substrate realtime.Substrate
}

// NewSession builds the room session of one WebSocket connection.
func (d *AppDeps) NewSession(opts ...session.Option) *session.Manager {
	return session.NewManager(d.Directory, d.Substrate, opts...)
}
