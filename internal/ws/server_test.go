package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/report-bot/internal/protocol"
)

// frame is the subset of server frames the tests look at.
type frame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Lines     []string `json:"lines"`
	Code      string   `json:"code"`
}

type clientConn struct {
	io.Reader
	io.Writer
}

func dial(t *testing.T, url string) (net.Conn, io.ReadWriter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return conn, clientConn{Reader: r, Writer: conn}
}

func readFrame(t *testing.T, rw io.ReadWriter) frame {
	t.Helper()
	data, err := wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

func send(t *testing.T, rw io.ReadWriter, data string) {
	t.Helper()
	if err := wsutil.WriteClientText(rw, []byte(data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestServer(t *testing.T, d *MessageDispatcher) (*Server, string) {
	t.Helper()
	s := NewServer(DefaultServerConfig(), d.Dispatch)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return s, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func echoDispatcher() *MessageDispatcher {
	d := NewMessageDispatcher()
	d.Register(protocol.TypeDM, func(conn *Connection, msg interface{}) {
		dm := msg.(protocol.DMMsg)
		data, _ := protocol.NewReply([]string{conn.ReporterID + ": " + dm.Text})
		_ = conn.WriteMessage(data)
	})
	return d
}

func TestServer_SessionCreatedCarriesReporterID(t *testing.T) {
	_, url := newTestServer(t, echoDispatcher())

	_, rw := dial(t, url+"?reporter=alice")
	f := readFrame(t, rw)
	if f.Type != protocol.TypeSessionCreated || f.SessionID != "alice" {
		t.Fatalf("unexpected first frame: %+v", f)
	}
}

func TestServer_AnonymousReporterGetsGeneratedID(t *testing.T) {
	_, url := newTestServer(t, echoDispatcher())

	_, rw := dial(t, url)
	f := readFrame(t, rw)
	if f.Type != protocol.TypeSessionCreated || len(f.SessionID) != 36 {
		t.Fatalf("expected generated uuid, got %+v", f)
	}
}

func TestServer_FramesAreDispatchedInOrder(t *testing.T) {
	_, url := newTestServer(t, echoDispatcher())

	_, rw := dial(t, url+"?reporter=bob")
	readFrame(t, rw)

	for _, text := range []string{"report", "one", "two"} {
		send(t, rw, `{"type":"dm","text":"`+text+`"}`)
	}
	for _, want := range []string{"bob: report", "bob: one", "bob: two"} {
		f := readFrame(t, rw)
		if f.Type != protocol.TypeReply || len(f.Lines) != 1 || f.Lines[0] != want {
			t.Fatalf("expected reply %q, got %+v", want, f)
		}
	}
}

func TestServer_PingAndErrors(t *testing.T) {
	_, url := newTestServer(t, echoDispatcher())

	_, rw := dial(t, url+"?reporter=carol")
	readFrame(t, rw)

	send(t, rw, `{"type":"ping"}`)
	if f := readFrame(t, rw); f.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %+v", f)
	}

	send(t, rw, `{not json`)
	if f := readFrame(t, rw); f.Type != protocol.TypeError || f.Code != "parse_error" {
		t.Fatalf("expected parse_error, got %+v", f)
	}

	send(t, rw, `{"type":"typing"}`)
	if f := readFrame(t, rw); f.Type != protocol.TypeError || f.Code != "unsupported_type" {
		t.Fatalf("expected unsupported_type, got %+v", f)
	}
}

func TestServer_DisconnectCallback(t *testing.T) {
	s, url := newTestServer(t, echoDispatcher())

	gone := make(chan *Connection, 1)
	s.SetOnDisconnect(func(c *Connection) { gone <- c })

	conn, rw := dial(t, url+"?reporter=dave")
	readFrame(t, rw)
	if n := s.Connections().Count(); n != 1 {
		t.Fatalf("expected 1 connection, got %d", n)
	}
	conn.Close()

	select {
	case c := <-gone:
		if c.ReporterID != "dave" || c.Anonymous {
			t.Errorf("unexpected connection: %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	if n := s.Connections().Count(); n != 0 {
		t.Errorf("expected 0 connections, got %d", n)
	}
}

func TestServer_AdmissionRejects(t *testing.T) {
	s, url := newTestServer(t, echoDispatcher())
	s.SetAdmission(func(context.Context, string) bool { return false })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, _, err := ws.Dial(ctx, url); err == nil {
		t.Fatal("expected dial to be rejected")
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, echoDispatcher())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.NewDecoder(bufio.NewReader(rec.Body)).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Connections != 0 {
		t.Errorf("unexpected health: %+v", body)
	}
}

func TestReporterID_TooLong(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?reporter="+strings.Repeat("x", maxReporterIDLen+1), nil)
	if _, _, err := reporterID(r); err == nil {
		t.Error("expected error for oversized reporter id")
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(ReporterHeader, " erin ")
	id, anonymous, err := reporterID(r)
	if err != nil || id != "erin" || anonymous {
		t.Errorf("got id=%q anonymous=%v err=%v", id, anonymous, err)
	}
}

func TestServer_SendMessageRepliesByConnectionID(t *testing.T) {
	var s *Server
	d := NewMessageDispatcher()
	d.Register(protocol.TypeDM, func(conn *Connection, msg interface{}) {
		data, _ := protocol.NewReply([]string{"got " + msg.(protocol.DMMsg).Text})
		if err := s.SendMessage(conn.ID, data); err != nil {
			t.Errorf("SendMessage: %v", err)
		}
	})
	s, url := newTestServer(t, d)

	_, rw := dial(t, url+"?reporter=frank")
	readFrame(t, rw)

	send(t, rw, `{"type":"dm","text":"report"}`)
	f := readFrame(t, rw)
	if f.Type != protocol.TypeReply || len(f.Lines) != 1 || f.Lines[0] != "got report" {
		t.Fatalf("unexpected reply: %+v", f)
	}

	if err := s.SendMessage("missing", []byte("{}")); err == nil {
		t.Error("expected error for unknown connection")
	}
}

func TestServer_SendMessageTimesOutOnStalledReader(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.WriteTimeout = 50 * time.Millisecond
	s := NewServer(cfg, nil)

	// Nobody reads from remote, so every write on local blocks.
	local, remote := net.Pipe()
	defer remote.Close()

	c := &Connection{ID: "stalled", ReporterID: "r", Conn: local, writeTimeout: cfg.WriteTimeout}
	c.Touch()
	s.conns.Add(c)

	done := make(chan error, 1)
	go func() { done <- s.SendMessage("stalled", []byte(`{"type":"reply"}`)) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected write to fail on a stalled reader")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage blocked past the write timeout")
	}
	if s.conns.Count() != 0 {
		t.Errorf("expected stalled connection to be dropped, got %d", s.conns.Count())
	}
}
