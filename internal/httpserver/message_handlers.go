package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"codechat/internal/domain"
	"codechat/internal/service"
	"codechat/internal/ws"
)

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func handleListDirectMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		otherID, ok := parseID(r, "userID")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
			return
		}
		msgs, err := msgSvc.ListConversation(r.Context(), domain.DirectRef(user.ID, otherID), user.ID, queryLimit(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleListGroupMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		groupID, ok := parseID(r, "groupID")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid group id"})
			return
		}
		msgs, err := msgSvc.ListConversation(r.Context(), domain.GroupRef(groupID), user.ID, queryLimit(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type messageCreateRequest struct {
	Target      ws.Target           `json:"target"`
	Text        string              `json:"text"`
	CodeSnippet *domain.CodeSnippet `json:"codeSnippet"`
	Attachments []domain.Attachment `json:"attachments"`
}

// handleCreateMessage sends a message over REST. It goes through the same
// router as WebSocket traffic, so connected recipients still get the push.
func handleCreateMessage(msgRouter *ws.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		resp, err := msgRouter.Route(r.Context(), user.ID, &ws.Envelope{
			Type:        "message",
			Target:      &req.Target,
			Text:        req.Text,
			CodeSnippet: req.CodeSnippet,
			Attachments: req.Attachments,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}
