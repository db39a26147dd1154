package router

import (
	"net/http"
	"strings"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/api/endpoints"
)

func UtilsRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		utilsEndpoints := endpoints.NewUtilsEndpoints(s.Services().Sweep)
		mux.HandleFunc(strings.TrimRight(prefix, "/")+"/health", s.MakeHTTPHandleFunc(utilsEndpoints.Health))
	}
}

// WebsocketRoomsRoutes exposes the local hub's rooms for operators.
func WebsocketRoomsRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		if s.Handler() == nil {
			return
		}
		mux.HandleFunc(strings.TrimRight(prefix, "/")+"/rooms", s.MakeHTTPHandleFunc(func(w http.ResponseWriter, r *http.Request) error {
			s.Handler().GetRooms(w, r)
			return nil
		}, s.Authenticated()...))
	}
}
