package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/agent-relay/pkg/config"
	"github.com/go-go-golems/agent-relay/pkg/relay"
	"github.com/go-go-golems/agent-relay/pkg/transcript"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.StaticDir = ""
	cfg.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 0, body["sessions"])
}

func TestPreflight(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/upload", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestIndexServesEmbeddedUI(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "/ws/")

	resp2, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestBase64UploadRoute(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	body, err := json.Marshal(map[string]string{
		"file_data": base64.StdEncoding.EncodeToString([]byte("data")),
		"file_name": "a.txt",
		"file_type": "text/plain",
	})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/upload-base64", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func readUntilTurnComplete(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg relay.WireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Empty(t, msg.Error)
		if msg.TurnComplete {
			return sb.String()
		}
		sb.WriteString(msg.Message)
	}
}

func TestWebsocketEchoAndTranscript(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.recorder.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello relay")))
	require.Equal(t, "hello relay", readUntilTurnComplete(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("[File Attachment] report.pdf")))
	require.Equal(t, relay.FileAcknowledgment, readUntilTurnComplete(t, conn))
	require.Equal(t, 1, s.Registry().Count())

	require.Eventually(t, func() bool {
		entries, err := s.transcripts.List(context.Background(), "s1", 0)
		return err == nil && len(entries) >= 4
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/transcript?session_id=s1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var listed struct {
		Entries []transcript.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Equal(t, transcript.DirectionInbound, listed.Entries[0].Direction)
	require.Equal(t, "hello relay", listed.Entries[0].Text)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.Eventually(t, func() bool { return s.Registry().Count() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestTranscriptDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.TranscriptInMemMax = 0
	s, ts := newTestServer(t, cfg)
	require.Nil(t, s.recorder)
	resp, err := http.Get(ts.URL + "/api/transcript?session_id=s1")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSQLiteTranscriptConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.TranscriptDB = filepath.Join(t.TempDir(), "t.db")
	s, _ := newTestServer(t, cfg)
	_, ok := s.transcripts.(*transcript.SQLiteStore)
	require.True(t, ok)
}

func TestNewFailsOnBadAgentFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.AgentFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
