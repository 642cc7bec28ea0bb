package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusrelay/internal/api"
	"campusrelay/internal/app"
	"campusrelay/internal/config"
	"campusrelay/internal/persistence"
	"campusrelay/pkg/types"
)

const readWait = 5 * time.Second

type relayEnv struct {
	srv    *httptest.Server
	app    *app.Application
	tokens map[string]string
}

// newRelayEnv serves a fully wired application over a temp database seeded
// with two campuses.
func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "integration-secret-0123456789abcdef"
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "relay.db")
	cfg.WebSocket.PingInterval = time.Second
	cfg.WebSocket.ReadTimeout = 5 * time.Second

	application, err := app.NewApplication(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, application.Start(ctx))

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		cancel()
		_ = application.Stop(context.Background())
		srv.Close()
	})

	store := application.Store()
	require.NoError(t, store.CreateSchool(ctx, types.School{ID: "ug", Name: "University of Ghana"}))
	require.NoError(t, store.CreateSchool(ctx, types.School{ID: "knust", Name: "KNUST"}))
	require.NoError(t, store.CreateCounselor(ctx, types.Counselor{UserID: "counselor1", Name: "Ms Adjei", CampusID: "ug"}))
	require.NoError(t, store.CreateCounselor(ctx, types.Counselor{UserID: "counselor2", Name: "Mr Boateng", CampusID: "knust"}))
	require.NoError(t, store.CreateStudent(ctx, types.Student{UserID: "student1", CampusID: "ug", Paid: true}))
	require.NoError(t, store.CreateStudent(ctx, types.Student{UserID: "student2", CampusID: "ug"}))

	env := &relayEnv{srv: srv, app: application, tokens: map[string]string{}}
	issue := func(user string, role types.Role, paid bool) {
		token, err := application.Authenticator().Issue(user, role, paid, time.Hour)
		require.NoError(t, err)
		env.tokens[user] = token
	}
	issue("counselor1", types.RoleCounselor, false)
	issue("counselor2", types.RoleCounselor, false)
	issue("student1", types.RoleStudent, true)
	issue("student2", types.RoleStudent, false)
	return env
}

func (e *relayEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
}

func (e *relayEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + e.tokens[user]}}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL("/ws"), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitConnections polls /health until the named registry reports n live
// connections.
func (e *relayEnv) waitConnections(t *testing.T, registry string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(e.srv.URL + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var health api.HealthResponse
		if json.NewDecoder(resp.Body).Decode(&health) != nil {
			return false
		}
		for _, r := range health.Registries {
			if r.Name == registry {
				return r.Connections == n
			}
		}
		return false
	}, readWait, 10*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestRelay_DeliveredWithReceipt(t *testing.T) {
	env := newRelayEnv(t)
	counselor := env.dial(t, "counselor1")
	student := env.dial(t, "student2")
	env.waitConnections(t, "relay", 2)

	send(t, student, map[string]string{"recipient_user_id": "counselor1", "message": "Can we talk tomorrow?", "message_id": "m-1"})

	envelope := readFrame(t, counselor)
	assert.Equal(t, "m-1", envelope["message_id"])
	assert.Equal(t, "student2", envelope["sender_user_id"])
	assert.Equal(t, "student2", envelope["sender_name"], "students have no display name")
	assert.Equal(t, "ug", envelope["campus_id"])
	assert.Equal(t, "Student", envelope["sender_role"])
	assert.Equal(t, "Can we talk tomorrow?", envelope["message"])
	assert.Equal(t, "text", envelope["type"])
	assert.NotContains(t, envelope, "emergency")

	receipt := readFrame(t, student)
	assert.Equal(t, "delivery_receipt", receipt["type"])
	assert.Equal(t, "m-1", receipt["message_id"])
	assert.Equal(t, "delivered", receipt["status"])
	assert.NotContains(t, receipt, "error")

	send(t, counselor, map[string]string{"recipient_user_id": "student2", "message": "Yes, 10am works."})
	reply := readFrame(t, student)
	assert.Equal(t, "Ms Adjei", reply["sender_name"])
	assert.Equal(t, "Counselor", reply["sender_role"])
	assert.Equal(t, "delivered", readFrame(t, counselor)["status"])
}

func TestRelay_Rejections(t *testing.T) {
	env := newRelayEnv(t)
	student := env.dial(t, "student2")
	env.waitConnections(t, "relay", 1)

	require.NoError(t, student.WriteMessage(websocket.TextMessage, []byte("not json")))
	rejection := readFrame(t, student)
	assert.Equal(t, "Invalid message format", rejection["error"])
	assert.NotEmpty(t, rejection["message_id"])

	require.NoError(t, student.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x01, 0xff}))
	assert.Equal(t, "Invalid message format", readFrame(t, student)["error"], "binary frames are answered, not dropped")

	send(t, student, map[string]string{"recipient_user_id": "counselor2", "message": "hello", "message_id": "m-x"})
	rejection = readFrame(t, student)
	assert.Equal(t, "Invalid recipient", rejection["error"], "counselor on another campus")
	assert.Equal(t, "m-x", rejection["message_id"])

	send(t, student, map[string]string{"recipient_user_id": "student1", "message": "hello"})
	assert.Equal(t, "Invalid recipient", readFrame(t, student)["error"])
}

func TestRelay_PendingIsPersistedForPaidSender(t *testing.T) {
	env := newRelayEnv(t)
	student := env.dial(t, "student1")
	env.waitConnections(t, "relay", 1)

	send(t, student, map[string]string{"recipient_user_id": "counselor1", "message": "Are you there?", "message_id": "m-2"})

	receipt := readFrame(t, student)
	assert.Equal(t, "pending", receipt["status"])
	assert.Equal(t, "Recipient not currently connected", receipt["error"])

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/conversations/counselor1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.tokens["student1"])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history api.ConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Equal(t, persistence.ConversationID("student1", "counselor1"), history.ConversationID)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "m-2", history.Messages[0].MessageID)
	assert.Equal(t, persistence.BodyRef("Are you there?"), history.Messages[0].BodyRef)
}

func TestRelay_UnpaidHistoryRefused(t *testing.T) {
	env := newRelayEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/conversations/counselor1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.tokens["student2"])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRelay_EmergencyFlagged(t *testing.T) {
	env := newRelayEnv(t)
	counselor := env.dial(t, "counselor1")
	student := env.dial(t, "student2")
	env.waitConnections(t, "relay", 2)

	send(t, student, map[string]string{"recipient_user_id": "counselor1", "message": "I want to end my life"})

	envelope := readFrame(t, counselor)
	assert.Equal(t, true, envelope["emergency"])
	assert.Equal(t, "delivered", readFrame(t, student)["status"])
}

func TestRelay_MisconductFlagged(t *testing.T) {
	env := newRelayEnv(t)
	counselor := env.dial(t, "counselor1")
	student := env.dial(t, "student2")
	env.waitConnections(t, "relay", 2)

	send(t, counselor, map[string]string{"recipient_user_id": "student2", "message": "send me a picture of you"})

	envelope := readFrame(t, student)
	assert.Equal(t, true, envelope["flagged"])
	assert.Equal(t, "personal_info_request", envelope["misconduct_type"])
	assert.Equal(t, "delivered", readFrame(t, counselor)["status"])
}

func TestRelay_ReconnectEvictsOldConnection(t *testing.T) {
	env := newRelayEnv(t)
	first := env.dial(t, "counselor1")
	env.waitConnections(t, "relay", 1)

	second := env.dial(t, "counselor1")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err := first.ReadMessage()
	require.Error(t, err, "the replaced connection is closed")

	env.waitConnections(t, "relay", 1)
	student := env.dial(t, "student2")
	env.waitConnections(t, "relay", 2)

	send(t, student, map[string]string{"recipient_user_id": "counselor1", "message": "hello again"})
	assert.Equal(t, "hello again", readFrame(t, second)["message"])
}

func TestRelay_RefusesBadToken(t *testing.T) {
	env := newRelayEnv(t)

	header := http.Header{"Authorization": []string{"Bearer nope"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEchoRoom(t *testing.T) {
	env := newRelayEnv(t)

	dialEcho := func(id string) *websocket.Conn {
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(fmt.Sprintf("/ws/test/%s", id)), nil)
		require.NoError(t, err)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	alice := dialEcho("alice")
	env.waitConnections(t, "echo", 1)
	bob := dialEcho("bob")

	assert.Equal(t, "Client 'bob' joined the chat.", readText(t, alice))

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("hi all")))
	assert.Equal(t, "bob: hi all", readText(t, alice))

	require.NoError(t, bob.Close())
	assert.Equal(t, "Client 'bob' left the chat.", readText(t, alice))
}
