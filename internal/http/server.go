// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"go.uber.org/zap"

	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
	"afyaride/internal/service"
)

type ServerDeps struct {
	Location *location.Service
	Pricing  *pricing.Service
	Planner  *service.TripPlanner
	// Devices resolves per-device providers; nil disables device endpoints.
	Devices location.DeviceSource
	Log     *zap.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}
