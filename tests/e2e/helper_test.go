package e2e_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeUpstream is an in-process stand-in for the G-Portal subscription
// endpoint. It accepts graphql-ws connections, validates the bearer token
// from connection_init and replays scripted frames on the console and
// sensor subscriptions.
type fakeUpstream struct {
	token        string
	consoleLines []string
	sensorFrame  string // raw data payload, empty to skip

	srv *httptest.Server
}

type wireFrame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newFakeUpstream(t *testing.T, token string) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{token: token}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"graphql-ws"},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.serve(conn)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

// URL returns the ws:// address of the fake endpoint.
func (f *fakeUpstream) URL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeUpstream) serve(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "connection_init":
			var payload struct {
				Authorization string `json:"authorization"`
			}
			_ = json.Unmarshal(frame.Payload, &payload)
			if payload.Authorization != f.token {
				f.write(conn, `{"type":"connection_error","payload":{"message":"unauthorized"}}`)
				return
			}
			f.write(conn, `{"type":"connection_ack"}`)
			f.write(conn, `{"type":"ka"}`)

		case "start":
			switch frame.ID {
			case "console":
				for _, line := range f.consoleLines {
					payload, _ := json.Marshal(map[string]any{
						"data": map[string]any{
							"consoleMessages": map[string]any{
								"stream":  "rcon",
								"channel": "system",
								"message": line,
							},
						},
					})
					out, _ := json.Marshal(wireFrame{ID: "console", Type: "data", Payload: payload})
					f.write(conn, string(out))
				}
			case "sensors":
				if f.sensorFrame != "" {
					out, _ := json.Marshal(wireFrame{ID: "sensors", Type: "data", Payload: json.RawMessage(f.sensorFrame)})
					f.write(conn, string(out))
				}
			}

		case "stop":
			// Acknowledge with a complete frame, as the real endpoint does.
			out, _ := json.Marshal(wireFrame{ID: frame.ID, Type: "complete"})
			f.write(conn, string(out))
		}
	}
}

func (f *fakeUpstream) write(conn *websocket.Conn, frame string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
