package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"marketchat/internal/domain"
	"marketchat/internal/service"
)

type sendMessageRequest struct {
	Text        string              `json:"text"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

func handleSendMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := chi.URLParam(r, "conversationID")

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.SendMessage(r.Context(), convID, CallerID(r), req.Text, req.Attachments)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := chi.URLParam(r, "conversationID")

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}

		// The page cursor is the oldest message of the previous page:
		// its timestamp plus, to disambiguate timestamp collisions at
		// the boundary, its id.
		var before *domain.MessageCursor
		if v := r.URL.Query().Get("before"); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before must be an RFC3339 timestamp"})
				return
			}
			before = &domain.MessageCursor{CreatedAt: t}
			if idv := r.URL.Query().Get("before_id"); idv != "" {
				id, err := strconv.ParseInt(idv, 10, 64)
				if err != nil || id < 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before_id"})
					return
				}
				before.ID = id
			}
		}

		items, err := msgSvc.GetMessages(r.Context(), convID, CallerID(r), limit, before)
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []*service.MessageResponse{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := chi.URLParam(r, "conversationID")

		if err := msgSvc.MarkRead(r.Context(), convID, CallerID(r)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
