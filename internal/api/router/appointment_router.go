package router

import (
	"net/http"
	"strings"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/api/endpoints"
)

func AppointmentRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		apptEndpoints := endpoints.NewAppointmentEndpoints(s.Services().Appointments)
		auth := s.Authenticated()

		mux.HandleFunc(base+"/appointments", s.MakeHTTPHandleFunc(apptEndpoints.Appointments, auth...))
		mux.HandleFunc(base+"/appointments/{id}/cancel", s.MakeHTTPHandleFunc(apptEndpoints.Cancel, auth...))
		mux.HandleFunc(base+"/appointments/{id}/complete", s.MakeHTTPHandleFunc(apptEndpoints.Complete, auth...))
		mux.HandleFunc(base+"/appointments/{id}/conversation", s.MakeHTTPHandleFunc(apptEndpoints.Conversation, auth...))
	}
}
