package router

import (
	"net/http"
	"strings"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/api/endpoints"
)

func ConversationRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		services := s.Services()
		convEndpoints := endpoints.NewConversationEndpoints(services.Conversations, services.Messages, s.Handler())
		auth := s.Authenticated()

		mux.HandleFunc(base+"/conversations", s.MakeHTTPHandleFunc(convEndpoints.Conversations, auth...))
		mux.HandleFunc(base+"/conversations/{id}", s.MakeHTTPHandleFunc(convEndpoints.Conversation, auth...))
		mux.HandleFunc(base+"/conversations/{id}/archive", s.MakeHTTPHandleFunc(convEndpoints.Archive, auth...))
		mux.HandleFunc(base+"/conversations/{id}/unarchive", s.MakeHTTPHandleFunc(convEndpoints.Unarchive, auth...))
		mux.HandleFunc(base+"/conversations/{id}/messages", s.MakeHTTPHandleFunc(convEndpoints.ConversationMessages, auth...))
		mux.HandleFunc(base+"/messages/{id}", s.MakeHTTPHandleFunc(convEndpoints.Message, auth...))
	}
}

func ConversationWebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		services := s.Services()
		convEndpoints := endpoints.NewConversationEndpoints(services.Conversations, services.Messages, s.Handler())

		mux.HandleFunc(base+"/conversations/{id}", s.MakeHTTPHandleFunc(convEndpoints.Websocket, s.Authenticated()...))
	}
}
