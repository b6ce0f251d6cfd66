package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"secrethitler-lite/internal/auth"
	"secrethitler-lite/transcript"
)

type tapes struct {
	mu sync.Mutex
	m  map[string]*transcript.Tape
}

func (t *tapes) Records(gameID string) ([]transcript.Record, bool) {
	t.mu.Lock()
	tape := t.m[gameID]
	t.mu.Unlock()
	if tape == nil {
		return nil, false
	}
	return tape.Records(), true
}

type fixture struct {
	srv   *httptest.Server
	token string
	tape  *transcript.Tape
	gw    *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := auth.NewManager(auth.Options{})
	if _, err := m.EnsureAccount("operator", "secret12"); err != nil {
		t.Fatalf("EnsureAccount err: %v", err)
	}
	_, token, err := m.Login("operator", "secret12")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	backlog := &tapes{m: map[string]*transcript.Tape{}}
	gw := New(m, backlog)
	tape := transcript.NewTape("g1", gw.Sink())
	backlog.m["g1"] = tape

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, token: token, tape: tape, gw: gw}
}

func (f *fixture) url(query string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?" + query
}

func readRecord(t *testing.T, conn *websocket.Conn) transcript.Record {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage err: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %d", kind)
	}
	rec, err := transcript.Decode(data)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	return rec
}

func TestSpectatorGetsBacklogThenLiveRecords(t *testing.T) {
	f := newFixture(t)
	f.tape.Emit(transcript.Record{Phase: "setup", Kind: transcript.KindEvent, Event: "game_started"})
	f.tape.Emit(transcript.Record{Round: 1, Phase: "nomination", Kind: transcript.KindDecision, Participant: "Alice", Decision: "Bob"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url("game=g1&token="+f.token), nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	defer conn.Close()

	f.tape.Emit(transcript.Record{Round: 1, Phase: "voting", Kind: transcript.KindDecision, Participant: "Bob", Decision: "Ja"})

	for want := uint64(1); want <= 3; want++ {
		rec := readRecord(t, conn)
		if rec.Seq != want {
			t.Fatalf("expected seq %d, got %d", want, rec.Seq)
		}
	}
}

func TestSpectatorJSONFormat(t *testing.T) {
	f := newFixture(t)
	f.tape.Emit(transcript.Record{Round: 2, Phase: "voting", Kind: transcript.KindDecision, Participant: "Eve", Decision: "Nein"})

	conn, _, err := websocket.DefaultDialer.Dial(f.url("game=g1&format=json&token="+f.token), nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage err: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", kind)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", data, err)
	}
	if body["participant"] != "Eve" || body["decision"] != "Nein" {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func TestHandshakeRejections(t *testing.T) {
	f := newFixture(t)
	cases := map[string]int{
		"game=g1&token=bogus":        http.StatusUnauthorized,
		"token=" + f.token:           http.StatusBadRequest,
		"game=nope&token=" + f.token: http.StatusNotFound,
	}
	for query, want := range cases {
		_, resp, err := websocket.DefaultDialer.Dial(f.url(query), nil)
		if err == nil {
			t.Fatalf("query %q: expected handshake failure", query)
		}
		if resp == nil || resp.StatusCode != want {
			t.Fatalf("query %q: expected %d, got %v", query, want, resp)
		}
	}
}

func TestPublishIgnoresOtherGames(t *testing.T) {
	f := newFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.url("game=g1&token="+f.token), nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	defer conn.Close()

	f.gw.Publish(transcript.Record{GameID: "other", Seq: 1, Phase: "setup", Kind: transcript.KindEvent})
	f.tape.Emit(transcript.Record{Phase: "setup", Kind: transcript.KindEvent, Event: "game_started"})
	rec := readRecord(t, conn)
	if rec.GameID != "g1" || rec.Seq != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}
