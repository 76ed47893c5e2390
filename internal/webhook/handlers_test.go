package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cvg-connector/internal/channel"
	"cvg-connector/internal/correlation"
	"cvg-connector/internal/engine"

	"github.com/gin-gonic/gin"
)

// recordingEngine captures delivered messages and plays back canned
// responses.
type recordingEngine struct {
	mu        sync.Mutex
	messages  []*channel.UserMessage
	responses []engine.Response
	err       error

	// gate, when set, blocks Deliver until released.
	gate chan struct{}
	// delivered is closed once the first Deliver call finishes.
	delivered chan struct{}
}

func (e *recordingEngine) Deliver(ctx context.Context, msg *channel.UserMessage) ([]engine.Response, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	if e.delivered != nil {
		close(e.delivered)
		e.delivered = nil
	}
	e.mu.Unlock()
	return e.responses, e.err
}

func (e *recordingEngine) all() []*channel.UserMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*channel.UserMessage(nil), e.messages...)
}

func newRouter(h *Handler, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	wh := r.Group("/webhook")
	wh.Use(ValidateRequest(token))
	wh.POST("/session", h.Session)
	wh.POST("/message", h.Message)
	wh.POST("/answer", h.Answer)
	wh.POST("/inactivity", h.Inactivity)
	wh.POST("/terminated", h.Terminated)
	wh.POST("/recording", h.Recording)
	return r
}

func postEvent(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func eventBody(extra string) string {
	base := `"dialogId":"dialog-1","callback":"https://cvg.example.com/v1/","projectContext":{"projectToken":"pt","resellerToken":"rt"}`
	if extra != "" {
		base += "," + extra
	}
	return "{" + base + "}"
}

func TestSession_AcceptsAndBlocks(t *testing.T) {
	eng := &recordingEngine{}
	h := &Handler{Engine: eng, StartIntent: channel.DefaultStartIntent, Blocking: false}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/session", eventBody(""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["action"] != "ACCEPT" {
		t.Fatalf("expected ACCEPT action, got %v", resp)
	}

	// Session delivery is synchronous even with Blocking=false: the
	// message must be there by the time the response is written.
	msgs := eng.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	if msgs[0].Text != channel.DefaultStartIntent {
		t.Fatalf("unexpected text: %q", msgs[0].Text)
	}

	rec, err := correlation.Decode(msgs[0].SenderID)
	if err != nil {
		t.Fatalf("sender id must decode: %v", err)
	}
	if rec.DialogID != "dialog-1" || rec.ProjectToken != "pt" || rec.ResellerToken != "rt" {
		t.Fatalf("unexpected recipient: %+v", rec)
	}
	if msgs[0].Reply.CallbackURL != "https://cvg.example.com/v1" {
		t.Fatalf("unexpected reply channel: %+v", msgs[0].Reply)
	}
}

func TestSession_EngineFailureStillAccepts(t *testing.T) {
	eng := &recordingEngine{err: fmt.Errorf("engine down")}
	h := &Handler{Engine: eng, StartIntent: channel.DefaultStartIntent, Blocking: true}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/session", eventBody(""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite engine failure, got %d", w.Code)
	}
}

func TestMessage_UsesUtteranceTextAndStripsPeriod(t *testing.T) {
	eng := &recordingEngine{}
	h := &Handler{Engine: eng, Blocking: true}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/message", eventBody(`"text":"I need help."`))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	msgs := eng.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Text != "I need help" {
		t.Fatalf("expected trailing period stripped, got %q", msgs[0].Text)
	}

	md, ok := msgs[0].Metadata[channel.MetadataKey].(map[string]any)
	if !ok || md["text"] != "I need help." {
		t.Fatalf("expected raw body in metadata, got %v", msgs[0].Metadata)
	}
}

func TestAnswer_LowercasesTypeName(t *testing.T) {
	eng := &recordingEngine{}
	h := &Handler{Engine: eng, Blocking: true}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/answer", eventBody(`"type":{"name":"DTMF"}`))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if msgs := eng.all(); len(msgs) != 1 || msgs[0].Text != "/cvg_answer_dtmf" {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}

func TestLifecycleIntents(t *testing.T) {
	cases := map[string]string{
		"/webhook/inactivity": channel.IntentInactivity,
		"/webhook/terminated": channel.IntentTerminated,
		"/webhook/recording":  channel.IntentRecording,
	}
	for path, want := range cases {
		eng := &recordingEngine{}
		h := &Handler{Engine: eng, Blocking: true}
		r := newRouter(h, "secret")

		w := postEvent(r, path, eventBody(""))
		if w.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, w.Code)
		}
		if msgs := eng.all(); len(msgs) != 1 || msgs[0].Text != want {
			t.Fatalf("%s: expected text %q, got %v", path, want, msgs)
		}
	}
}

func TestNonBlocking_ResponseDoesNotWaitForDelivery(t *testing.T) {
	eng := &recordingEngine{
		gate:      make(chan struct{}),
		delivered: make(chan struct{}),
	}
	delivered := eng.delivered
	h := &Handler{Engine: eng, Blocking: false}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/inactivity", eventBody(""))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// The response came back while delivery is still parked on the gate.
	if len(eng.all()) != 0 {
		t.Fatalf("expected delivery still pending when response returned")
	}

	close(eng.gate)
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("detached delivery never completed")
	}
	if msgs := eng.all(); len(msgs) != 1 || msgs[0].Text != channel.IntentInactivity {
		t.Fatalf("unexpected messages after detached delivery: %v", msgs)
	}
}

func TestBlockingFlag_ForcesSynchronousDelivery(t *testing.T) {
	eng := &recordingEngine{}
	h := &Handler{Engine: eng, Blocking: true}
	r := newRouter(h, "secret")

	w := postEvent(r, "/webhook/message", eventBody(`"text":"hi"`))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(eng.all()) != 1 {
		t.Fatalf("expected synchronous delivery")
	}
}

func TestGateFailure_NoEngineDelivery(t *testing.T) {
	eng := &recordingEngine{}
	h := &Handler{Engine: eng, Blocking: true}
	r := newRouter(h, "secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook/message", strings.NewReader(eventBody(`"text":"hi"`)))
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(eng.all()) != 0 {
		t.Fatalf("expected no delivery on auth failure")
	}
}

// End to end: an engine text response is spoken back into the call through
// the reply channel announced by the webhook.
func TestEngineResponse_SpokenViaReplyChannel(t *testing.T) {
	var mu sync.Mutex
	var said []map[string]any
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call/say" {
			t.Errorf("unexpected gateway path: %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		said = append(said, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer gateway.Close()

	eng := &recordingEngine{responses: []engine.Response{{Text: "How can I help?"}}}
	h := &Handler{Engine: eng, Blocking: true}
	r := newRouter(h, "secret")

	body := fmt.Sprintf(`{"dialogId":"dialog-1","callback":%q,"projectContext":{"projectToken":"pt","resellerToken":"rt"}}`, gateway.URL)
	w := postEvent(r, "/webhook/message", body)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(said) != 1 {
		t.Fatalf("expected 1 say call, got %d", len(said))
	}
	if said[0]["dialogId"] != "dialog-1" || said[0]["text"] != "How can I help?" {
		t.Fatalf("unexpected say body: %v", said[0])
	}
}
