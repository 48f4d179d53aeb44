package realtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain"
	"marketchat/internal/security"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	// Browsers cannot set Authorization on WebSocket upgrades, so the
	// token may ride in the subprotocol list: "bearer, <token>".
	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}

	return ""
}

// inboundFrame is what clients send: join/leave requests for
// conversation rooms.
type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// After a Bearer-authenticated upgrade, clients manage their room
// membership with frames:
//   - {"type":"join","conversation_id":"..."}  (participants only)
//   - {"type":"leave","conversation_id":"..."}
//
// The server pushes hub events (message:new) for joined rooms.
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	conversations domain.ConversationRepository,
	allowedOrigins []string,
	logger *slog.Logger,
) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime_handler")

	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr := extractToken(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.Subject(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID := uuid.New().String()
		client := hub.Connect(clientID)
		defer hub.Disconnect(clientID)

		// Writer: drains hub events for this client. Dedicated goroutine
		// so one gorilla connection never sees concurrent writes.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range client.Send {
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			}
		}()

		ctx := r.Context()
		for {
			var frame inboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				break
			}
			switch frame.Type {
			case "join":
				if frame.ConversationID == "" {
					sendError(client, "join requires conversation_id")
					continue
				}
				conv, err := conversations.GetByID(ctx, frame.ConversationID)
				if err != nil {
					logger.Error("join lookup failed", "conversation_id", frame.ConversationID, "error", err)
					sendError(client, "failed to join conversation")
					continue
				}
				if conv == nil || !conv.HasParticipant(userID) {
					sendError(client, "not allowed for this conversation")
					continue
				}
				hub.Join(clientID, conv.ID)

			case "leave":
				if frame.ConversationID == "" {
					continue
				}
				hub.Leave(clientID, frame.ConversationID)

			default:
				logger.Debug("unknown frame type", "type", frame.Type, "user_id", userID)
			}
		}

		hub.Disconnect(clientID)
		<-done
	}
}

// sendError routes error frames through the client's outbound channel
// so the writer goroutine stays the only writer on the connection.
func sendError(c *Client, msg string) {
	select {
	case c.Send <- Event{Type: "error", Payload: msg}:
	default:
	}
}
