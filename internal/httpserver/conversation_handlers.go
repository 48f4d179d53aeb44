package httpserver

import (
	"encoding/json"
	"net/http"

	"marketchat/internal/service"
)

type startConversationRequest struct {
	PeerUserID string `json:"peer_user_id"`
}

func handleStartConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		conv, err := convSvc.EnsureConversation(r.Context(), CallerID(r), req.PeerUserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":           conv.ID,
			"participants": []string{conv.ParticipantA, conv.ParticipantB},
			"created_at":   conv.CreatedAt,
		})
	}
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := convSvc.ListConversations(r.Context(), CallerID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if summaries == nil {
			summaries = []*service.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}
