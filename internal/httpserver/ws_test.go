package httpserver_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Message        json.RawMessage `json:"message"`
}

func dialWS(t *testing.T, e *testEnv, userID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	token, err := e.tokens.CreateForUser(userID)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var e wsEvent
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestRealtimeMessageDelivery(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.request(t, http.MethodPost, "/api/conversations/start", "u1",
		map[string]string{"peer_user_id": "u2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &started))
	convID := started.ID

	// u2 joins the conversation room.
	conn := dialWS(t, e, "u2")
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":            "join",
		"conversation_id": convID,
	}))

	// Give the join frame time to land before publishing.
	time.Sleep(100 * time.Millisecond)

	msgPath := fmt.Sprintf("/api/conversations/%s/messages", convID)
	resp, _ = e.request(t, http.MethodPost, msgPath, "u1", map[string]string{"text": "ping"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	event := readEvent(t, conn)
	assert.Equal(t, "message:new", event.Type)
	assert.Equal(t, convID, event.ConversationID)

	var payload struct {
		Text   string `json:"text"`
		Sender struct {
			ID string `json:"id"`
		} `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(event.Message, &payload))
	assert.Equal(t, "ping", payload.Text)
	assert.Equal(t, "u1", payload.Sender.ID)
}

// Browsers cannot set Authorization on upgrade requests, so the token
// can ride in the subprotocol list instead.
func TestRealtimeSubprotocolToken(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.request(t, http.MethodPost, "/api/conversations/start", "u1",
		map[string]string{"peer_user_id": "u2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &started))
	convID := started.ID

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	token, err := e.tokens.CreateForUser("u2")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")
	dialer := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	conn, dresp, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	if dresp != nil {
		dresp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":            "join",
		"conversation_id": convID,
	}))
	time.Sleep(100 * time.Millisecond)

	msgPath := fmt.Sprintf("/api/conversations/%s/messages", convID)
	resp, _ = e.request(t, http.MethodPost, msgPath, "u1", map[string]string{"text": "ping"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	event := readEvent(t, conn)
	assert.Equal(t, "message:new", event.Type)
	assert.Equal(t, convID, event.ConversationID)
}

func TestRealtimeJoinRequiresParticipation(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.request(t, http.MethodPost, "/api/conversations/start", "u1",
		map[string]string{"peer_user_id": "u2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &started))

	conn := dialWS(t, e, "mallory")
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":            "join",
		"conversation_id": started.ID,
	}))

	event := readEvent(t, conn)
	assert.Equal(t, "error", event.Type)
}

func TestRealtimeSenderWithoutSocketStillGetsResponse(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.request(t, http.MethodPost, "/api/conversations/start", "u1",
		map[string]string{"peer_user_id": "u2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &started))

	// No client is joined anywhere; the send must still succeed.
	msgPath := fmt.Sprintf("/api/conversations/%s/messages", started.ID)
	resp, raw = e.request(t, http.MethodPost, msgPath, "u1", map[string]string{"text": "anyone?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
}

func TestRealtimeRejectsBadOriginAndToken(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"

	t.Run("BadOrigin", func(t *testing.T) {
		token, err := e.tokens.CreateForUser("u1")
		require.NoError(t, err)
		header := http.Header{}
		header.Set("Origin", "http://evil.example")
		header.Set("Authorization", "Bearer "+token)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("MissingToken", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://localhost:3000")

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
