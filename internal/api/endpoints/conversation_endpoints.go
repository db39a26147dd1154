package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/dto"
	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/service/conversation"
	"therapy-chat-sync/internal/service/message"
	"therapy-chat-sync/internal/session"
	"therapy-chat-sync/internal/websocket"
)

const EventConversationDeleted = "conversation.deleted"

type ConversationEndpoints interface {
	Conversations(http.ResponseWriter, *http.Request) error
	Conversation(http.ResponseWriter, *http.Request) error
	Archive(http.ResponseWriter, *http.Request) error
	Unarchive(http.ResponseWriter, *http.Request) error
	ConversationMessages(http.ResponseWriter, *http.Request) error
	Message(http.ResponseWriter, *http.Request) error
	Websocket(http.ResponseWriter, *http.Request) error
}

type conversationEndpoints struct {
	service  *conversation.Service
	messages *message.Service
	handler  *websocket.Handler
}

func NewConversationEndpoints(service *conversation.Service, messages *message.Service, handler *websocket.Handler) ConversationEndpoints {
	return &conversationEndpoints{
		service:  service,
		messages: messages,
		handler:  handler,
	}
}

func (h *conversationEndpoints) Conversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListConversations,
		http.MethodPost: h.handleCreateConversation,
	})
}

func (h *conversationEndpoints) Conversation(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:    h.handleGetConversation,
		http.MethodDelete: h.handleDeleteConversation,
	})
}

func (h *conversationEndpoints) Archive(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleSetArchived(w, r, h.service.Archive)
		},
	})
}

func (h *conversationEndpoints) Unarchive(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
			return h.handleSetArchived(w, r, h.service.Unarchive)
		},
	})
}

func (h *conversationEndpoints) ConversationMessages(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListMessages,
		http.MethodPost: h.handlePostMessage,
	})
}

func (h *conversationEndpoints) Message(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodDelete: h.handleDeleteMessage,
	})
}

func (h *conversationEndpoints) Websocket(w http.ResponseWriter, r *http.Request) error {
	sess, conv, err := h.authorize(r)
	if err != nil {
		return err
	}
	if h.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Websocket not available",
			ErrorLog:   fmt.Errorf("websocket handler missing"),
		}
	}

	h.handler.JoinRoom(w, r, conv.ID, sess)
	return nil
}

func (h *conversationEndpoints) handleListConversations(w http.ResponseWriter, r *http.Request) error {
	sess, err := sessionFrom(r)
	if err != nil {
		return err
	}

	convs, err := h.service.ListActiveForRole(r.Context(), sess.UserID, sess.Role)
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.ListConversationsResponse{Conversations: dto.FromConversations(convs)})
}

func (h *conversationEndpoints) handleCreateConversation(w http.ResponseWriter, r *http.Request) error {
	sess, err := sessionFrom(r)
	if err != nil {
		return err
	}

	var req dto.CreateConversationRequest
	if err := decodeJSON(r, &req, "create conversation request"); err != nil {
		return err
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.TherapistID = strings.TrimSpace(req.TherapistID)
	switch {
	case sess.Role == model.RolePatient && req.PatientID == "":
		req.PatientID = sess.UserID
	case sess.Role == model.RoleTherapist && req.TherapistID == "":
		req.TherapistID = sess.UserID
	}
	if err := requireParticipant(sess, req.PatientID, req.TherapistID); err != nil {
		return err
	}

	conv, err := h.service.CreateOrGet(r.Context(), req.PatientID, req.TherapistID, req.TherapistName)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.FromConversation(conv))
}

func (h *conversationEndpoints) handleGetConversation(w http.ResponseWriter, r *http.Request) error {
	_, conv, err := h.authorize(r)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, dto.FromConversation(conv))
}

func (h *conversationEndpoints) handleDeleteConversation(w http.ResponseWriter, r *http.Request) error {
	_, conv, err := h.authorize(r)
	if err != nil {
		return err
	}

	if err := h.service.Delete(r.Context(), conv.ID); err != nil {
		return serviceError(err)
	}

	h.notifyRoom(r.Context(), conv.ID, map[string]any{
		"type":           EventConversationDeleted,
		"conversationId": conv.ID,
		"broadcastedAt":  time.Now().UTC().Format(time.RFC3339),
	})
	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Conversation deleted"})
}

func (h *conversationEndpoints) handleSetArchived(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, id string) (model.Conversation, error)) error {
	_, conv, err := h.authorize(r)
	if err != nil {
		return err
	}

	updated, err := set(r.Context(), conv.ID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.FromConversation(updated))
}

func (h *conversationEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	_, conv, err := h.authorize(r)
	if err != nil {
		return err
	}

	msgs, err := h.messages.List(r.Context(), conv.ID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ListMessagesResponse{Messages: dto.FromMessages(msgs)})
}

func (h *conversationEndpoints) handlePostMessage(w http.ResponseWriter, r *http.Request) error {
	sess, conv, err := h.authorize(r)
	if err != nil {
		return err
	}

	var req dto.PostMessageRequest
	if err := decodeJSON(r, &req, "post message request"); err != nil {
		return err
	}

	msg, err := h.messages.Send(r.Context(), message.SendParams{
		ChatID:    conv.ID,
		SenderID:  sess.UserID,
		Content:   req.Content,
		MessageID: strings.TrimSpace(req.MessageID),
	})
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusCreated, dto.FromMessage(msg))
}

func (h *conversationEndpoints) handleDeleteMessage(w http.ResponseWriter, r *http.Request) error {
	sess, err := sessionFrom(r)
	if err != nil {
		return err
	}
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}

	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		return serviceError(err)
	}
	if msg.SenderID != sess.UserID {
		return api.Forbidden(fmt.Errorf("user %s is not the sender of message %s", sess.UserID, id))
	}

	if err := h.messages.Delete(r.Context(), id); err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Message deleted"})
}

// authorize loads the conversation named in the path and checks the caller
// is one of its participants.
func (h *conversationEndpoints) authorize(r *http.Request) (session.Session, model.Conversation, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return session.Session{}, model.Conversation{}, err
	}
	id, err := pathID(r, "id")
	if err != nil {
		return session.Session{}, model.Conversation{}, err
	}

	conv, err := h.service.Get(r.Context(), id)
	if err != nil {
		return session.Session{}, model.Conversation{}, serviceError(err)
	}
	if err := requireParticipant(sess, conv.PatientID, conv.TherapistID); err != nil {
		return session.Session{}, model.Conversation{}, err
	}
	return sess, conv, nil
}

func (h *conversationEndpoints) notifyRoom(ctx context.Context, roomID string, payload any) {
	if roomID == "" || h.handler == nil {
		return
	}
	h.handler.NotifyRoom(ctx, roomID, payload)
}
