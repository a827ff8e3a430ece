package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thriveai/ami/internal/ami/clock"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/httpapi"
	"github.com/thriveai/ami/internal/ami/observability"
	"github.com/thriveai/ami/internal/ami/persona"
	"github.com/thriveai/ami/internal/ami/responder"
	"github.com/thriveai/ami/internal/ami/session"
	"github.com/thriveai/ami/internal/ami/store"
	"github.com/thriveai/ami/internal/ami/transcript"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type firstPicker struct{}

func (firstPicker) IntN(int) int { return 0 }

type fixture struct {
	clock    *clock.Fake
	registry *session.Registry
	server   *httpapi.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test add dependencies before the server is built.
func newFixtureWith(t *testing.T, wire func(*session.Registry, *httpapi.Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p, err := persona.Default()
	if err != nil {
		t.Fatalf("persona: %v", err)
	}
	fc := clock.NewFake(epoch)
	reg := session.NewRegistry(session.Options{
		Persona:   p,
		Generator: generator.NewLocal(responder.New(p)),
		Clock:     fc,
		Picker:    firstPicker{},
		Logger:    observability.Discard(),
	})
	t.Cleanup(reg.CloseAll)
	deps := httpapi.Deps{
		Registry:      reg,
		Logger:        observability.Discard(),
		GeneratorMode: "local",
		Backend:       "none",
	}
	if wire != nil {
		wire(reg, &deps)
	}
	srv := httpapi.New(deps)
	return &fixture{clock: fc, registry: reg, server: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type created struct {
	httpapi.StateView
	Suggestions []string `json:"suggestions"`
}

func (f *fixture) create(t *testing.T) created {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body)
	}
	return decode[created](t, w)
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", w.Code, w.Body)
	}
	if w.Header().Get(httpapi.TraceHeader) == "" {
		t.Error("trace header missing")
	}

	f.create(t)
	w = f.do(t, http.MethodGet, "/status", nil)
	status := decode[map[string]any](t, w)
	if status["sessions"] != float64(1) {
		t.Errorf("expected 1 session, got %v", status["sessions"])
	}
	if status["generator"] != "local" {
		t.Errorf("unexpected generator %v", status["generator"])
	}
}

func TestTraceHeaderEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(httpapi.TraceHeader, "turn-42")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	if got := w.Header().Get(httpapi.TraceHeader); got != "turn-42" {
		t.Fatalf("expected echoed trace id, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/api/sessions", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	if len(s.Messages) != 1 || !s.Messages[0].FromCompanion() {
		t.Fatalf("expected the greeting, got %+v", s.Messages)
	}
	if len(s.Suggestions) != 5 {
		t.Fatalf("expected 5 suggestions, got %d", len(s.Suggestions))
	}
	if s.Mood != "content" || s.Avatar != "happy" {
		t.Fatalf("unexpected initial mood %q avatar %q", s.Mood, s.Avatar)
	}

	w := f.do(t, http.MethodGet, "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/sessions", nil)
	list := decode[struct {
		Sessions []session.Summary `json:"sessions"`
	}](t, w)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != s.ID {
		t.Fatalf("unexpected listing %+v", list.Sessions)
	}

	if w := f.do(t, http.MethodDelete, "/api/sessions/"+s.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["code"] != "session_not_found" {
		t.Fatalf("unexpected error code %q", body["code"])
	}
}

func TestSubmitAndReply(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	path := "/api/sessions/" + s.ID + "/messages"

	w := f.do(t, http.MethodPost, path, map[string]string{"text": "Tôi thấy buồn"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", w.Code, w.Body)
	}
	if st := decode[httpapi.StateView](t, w); !st.AwaitingReply || st.Phase != session.PhaseAwaitingReply {
		t.Fatalf("expected awaiting reply, got %+v", st)
	}

	w = f.do(t, http.MethodPost, path, map[string]string{"text": "còn nữa"})
	if w.Code != http.StatusConflict {
		t.Fatalf("overlapping submit: expected 409, got %d", w.Code)
	}

	f.clock.Advance(1500 * time.Millisecond)
	st := decode[httpapi.StateView](t, f.do(t, http.MethodGet, "/api/sessions/"+s.ID, nil))
	if len(st.Messages) != 3 {
		t.Fatalf("expected greeting, message and reply, got %d", len(st.Messages))
	}
	if st.Mood != "neutral" || !st.Vocalizing {
		t.Fatalf("expected neutral vocalizing reply, got mood %q vocalizing %v", st.Mood, st.Vocalizing)
	}
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	base := "/api/sessions/" + s.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodPost, "/api/sessions/nope/messages", map[string]string{"text": "hi"}, http.StatusNotFound},
		{"malformed json", http.MethodPost, base + "/messages", "{", http.StatusBadRequest},
		{"suggestion out of range", http.MethodPost, base + "/suggestions", map[string]int{"index": 99}, http.StatusBadRequest},
		{"unknown suggestion text", http.MethodPost, base + "/suggestions", map[string]string{"text": "???"}, http.StatusBadRequest},
		{"unknown action", http.MethodPost, base + "/actions", map[string]string{"kind": "dance"}, http.StatusBadRequest},
		{"bad transcript limit", http.MethodGet, base + "/transcript?limit=-1", nil, http.StatusBadRequest},
		{"unknown websocket session", http.MethodGet, "/ws/sessions/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body)
			}
		})
	}
}

func TestInputSuggestionsAndVoice(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	base := "/api/sessions/" + s.ID

	w := f.do(t, http.MethodPost, base+"/suggestions", map[string]int{"index": 1})
	if st := decode[httpapi.StateView](t, w); st.InputBuffer != s.Suggestions[1] {
		t.Fatalf("expected input %q, got %q", s.Suggestions[1], st.InputBuffer)
	}
	if st := decode[httpapi.StateView](t, f.do(t, http.MethodGet, base, nil)); len(st.Messages) != 1 {
		t.Fatal("selecting a suggestion must not submit it")
	}

	w = f.do(t, http.MethodPut, base+"/input", map[string]string{"text": "đang gõ"})
	if st := decode[httpapi.StateView](t, w); st.InputBuffer != "đang gõ" {
		t.Fatalf("unexpected input %q", st.InputBuffer)
	}

	w = f.do(t, http.MethodPost, base+"/voice", nil)
	if st := decode[httpapi.StateView](t, w); !st.CapturingVoice {
		t.Fatal("expected capture to start")
	}
	w = f.do(t, http.MethodPost, base+"/voice", nil)
	st := decode[httpapi.StateView](t, w)
	if st.CapturingVoice || !strings.Contains(st.InputBuffer, "mệt mỏi") {
		t.Fatalf("expected the placeholder transcript, got %+v", st)
	}

	w = f.do(t, http.MethodGet, base+"/suggestions", nil)
	if got := decode[map[string][]string](t, w)["suggestions"]; len(got) != 5 {
		t.Fatalf("expected 5 suggestions, got %v", got)
	}
	if w := f.do(t, http.MethodPost, base+"/interactions", nil); w.Code != http.StatusNoContent {
		t.Fatalf("interaction: %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, base+"/actions", map[string]string{"kind": "breathing"}); w.Code != http.StatusNoContent {
		t.Fatalf("breathing action: %d", w.Code)
	}
}

func TestSurfaceToggle(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	w := f.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/surface", map[string]bool{"open": true})
	if got := decode[map[string]bool](t, w); !got["open"] {
		t.Fatal("surface should be open")
	}
	ctrl, _ := f.registry.Get(s.ID)
	if !ctrl.SurfaceOpen() {
		t.Fatal("controller not told the surface is open")
	}
}

func TestTranscriptFallsBackToLiveLog(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	f.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/messages", map[string]string{"text": "xin chào"})

	w := f.do(t, http.MethodGet, "/api/sessions/"+s.ID+"/transcript?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transcript: %d %s", w.Code, w.Body)
	}
	body := decode[struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}](t, w)
	if len(body.Messages) != 1 || body.Messages[0].Text != "xin chào" {
		t.Fatalf("expected the newest message only, got %+v", body.Messages)
	}
}

func TestStateWireFieldNames(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	w := f.do(t, http.MethodGet, "/api/sessions/"+s.ID, nil)
	fields := decode[map[string]any](t, w)

	for _, name := range []string{"messages", "mood", "is_awaiting_reply", "is_vocalizing", "is_capturing_voice", "input_buffer"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("state is missing %q: %s", name, w.Body)
		}
	}
	for _, name := range []string{"awaiting_reply", "vocalizing", "capturing_voice", "input"} {
		if _, ok := fields[name]; ok {
			t.Errorf("state still carries %q", name)
		}
	}
}

func TestDeletePurgesTranscript(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	archive := transcript.NewSQLite(db)
	rec := transcript.NewRecorder(archive, observability.Discard())
	t.Cleanup(rec.Close)

	f := newFixtureWith(t, func(reg *session.Registry, d *httpapi.Deps) {
		reg.OnCreate(rec.Attach)
		reg.OnClose(rec.Detach)
		d.Archive = archive
		d.Recorder = rec
		d.Backend = transcript.BackendSQLite
	})
	s := f.create(t)
	base := "/api/sessions/" + s.ID
	f.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "xin chào"})
	f.clock.Advance(1500 * time.Millisecond)

	ctx := context.Background()
	waitFor(t, "archived reply", func() bool {
		n, _ := db.CountMessages(ctx, s.ID)
		return n == 3
	})

	if w := f.do(t, http.MethodDelete, base+"?purge=true", nil); w.Code != http.StatusNoContent {
		t.Fatalf("purge: %d %s", w.Code, w.Body)
	}
	if n, _ := db.CountMessages(ctx, s.ID); n != 0 {
		t.Fatalf("expected an empty transcript after purge, got %d rows", n)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"purge of a closed session", base + "?purge=true", http.StatusNoContent},
		{"plain delete of a closed session", base, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodDelete, tt.path, nil); w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRateLimitHeader(t *testing.T) {
	var limiter *generator.RateLimiter
	f := newFixtureWith(t, func(_ *session.Registry, d *httpapi.Deps) {
		limiter = generator.NewRateLimiter(3, time.Minute, func() time.Time { return epoch })
		d.Limiter = limiter
	})
	s := f.create(t)

	w := f.do(t, http.MethodGet, "/api/sessions/"+s.ID, nil)
	if got := w.Header().Get(httpapi.RateLimitHeader); got != "3" {
		t.Fatalf("expected a full budget, got %q", got)
	}
	limiter.Allow(s.ID)
	w = f.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/messages", map[string]string{"text": "chào"})
	if got := w.Header().Get(httpapi.RateLimitHeader); got != "2" {
		t.Fatalf("expected 2 remaining, got %q", got)
	}

	plain := newFixture(t)
	ps := plain.create(t)
	if got := plain.do(t, http.MethodGet, "/api/sessions/"+ps.ID, nil).Header().Get(httpapi.RateLimitHeader); got != "" {
		t.Fatalf("header set without a limiter: %q", got)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(httpapi.Frame) bool) httpapi.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f httpapi.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(f) {
			return f
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebsocketConversation(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	s := f.create(t)
	ctrl, _ := f.registry.Get(s.ID)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + s.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	first := readUntil(t, conn, "initial state", func(fr httpapi.Frame) bool { return fr.Type == httpapi.FrameState })
	if len(first.State.Messages) != 1 {
		t.Fatalf("expected greeting snapshot, got %+v", first.State)
	}
	waitFor(t, "surface open", ctrl.SurfaceOpen)

	if err := conn.WriteJSON(httpapi.Command{Type: httpapi.FrameSubmit, Text: "hôm nay thật khó khăn"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "awaiting reply", func(fr httpapi.Frame) bool {
		return fr.Type == httpapi.FrameState && fr.State.AwaitingReply
	})

	f.clock.Advance(1500 * time.Millisecond)
	reply := readUntil(t, conn, "reply", func(fr httpapi.Frame) bool {
		return fr.Type == httpapi.FrameState && len(fr.State.Messages) == 3
	})
	if reply.State.Mood != "neutral" {
		t.Fatalf("expected neutral mood, got %q", reply.State.Mood)
	}

	f.clock.Advance(time.Second)
	notice := readUntil(t, conn, "breathing notice", func(fr httpapi.Frame) bool { return fr.Type == httpapi.FrameNotice })
	if notice.Notice.Action == nil || notice.Notice.Action.Kind != "breathing" {
		t.Fatalf("expected breathing action, got %+v", notice.Notice)
	}

	conn.WriteJSON(map[string]any{"type": "action", "action": map[string]string{"kind": "navigate", "route": "/video-call"}})
	nav := readUntil(t, conn, "navigate", func(fr httpapi.Frame) bool { return fr.Type == httpapi.FrameNavigate })
	if nav.Route != "/video-call" {
		t.Fatalf("unexpected route %q", nav.Route)
	}

	conn.WriteJSON(httpapi.Command{Type: "dance"})
	readUntil(t, conn, "error frame", func(fr httpapi.Frame) bool { return fr.Type == httpapi.FrameError })

	conn.Close()
	waitFor(t, "surface closed", func() bool { return !ctrl.SurfaceOpen() })
}
