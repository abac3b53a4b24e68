package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"gemchat/internal/attachment"
	"gemchat/internal/auth"
	"gemchat/internal/catalog"
	"gemchat/internal/chat"
	"gemchat/internal/completion"
	"gemchat/internal/models"
	"gemchat/internal/storage"
)

const testKey = "AIzaSyTestKey1234"

func TestSettingsFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/settings", nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Configured bool   `json:"configured"`
		UserName   string `json:"userName"`
		APIKey     string `json:"apiKey"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Configured {
		t.Fatalf("expected unconfigured settings")
	}

	resp = srv.do(t, http.MethodPut, "/api/settings", map[string]string{"apiKey": "sk-wrong", "userName": "Ada"})
	assertStatus(t, resp, http.StatusBadRequest)
	resp = srv.do(t, http.MethodPut, "/api/settings", map[string]string{"apiKey": testKey, "userName": ""})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = srv.do(t, http.MethodPut, "/api/settings", map[string]string{"apiKey": testKey, "userName": " Ada "})
	assertStatus(t, resp, http.StatusOK)

	resp = srv.do(t, http.MethodGet, "/api/settings", nil)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Configured || body.UserName != "Ada" {
		t.Fatalf("unexpected settings %+v", body)
	}
	if body.APIKey == testKey || !strings.HasPrefix(body.APIKey, "AIza") || !strings.HasSuffix(body.APIKey, "1234") {
		t.Fatalf("api key not masked: %q", body.APIKey)
	}

	resp = srv.do(t, http.MethodDelete, "/api/settings", nil)
	assertStatus(t, resp, http.StatusNoContent)
	if srv.controller.Settings() != nil {
		t.Fatalf("sign-out did not clear settings")
	}
}

func TestCSRFRequiredForWrites(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, srv.router, http.MethodGet, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestSendStreamsSSE(t *testing.T) {
	srv := newTestServer(t)
	srv.signIn(t)
	srv.completer.setScript(func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
		return reply("Hello", ", world"), nil
	})

	resp := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "greet me"})
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := parseSSE(t, resp.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected ack, update and done events, got %+v", events)
	}
	if events[0].Name != "ack" {
		t.Fatalf("first event should be ack, got %q", events[0].Name)
	}
	var ack struct {
		SessionID int64          `json:"sessionId"`
		Message   models.Message `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ack)
	if ack.Message.Role != models.RoleUser || ack.Message.Text != "greet me" || ack.SessionID == 0 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev.Name != "update" {
			t.Fatalf("unexpected intermediate event %q", ev.Name)
		}
	}
	last := events[len(events)-1]
	if last.Name != "done" {
		t.Fatalf("last event should be done, got %q", last.Name)
	}
	var done struct {
		Session models.Session `json:"session"`
		Model   string         `json:"model"`
	}
	decodeJSON(t, []byte(last.Data), &done)
	if len(done.Session.Messages) != 2 || done.Session.Messages[1].Text != "Hello, world" {
		t.Fatalf("unexpected final session %+v", done.Session)
	}
	if done.Session.Messages[1].IsStreaming || done.Model != catalog.Default {
		t.Fatalf("unexpected final state %+v model=%s", done.Session.Messages[1], done.Model)
	}
	if done.Session.Title != "greet me" {
		t.Fatalf("title not derived: %q", done.Session.Title)
	}
}

func TestSendStreamErrorIsMessageState(t *testing.T) {
	srv := newTestServer(t)
	srv.signIn(t)
	srv.completer.setScript(func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
		return fail(errors.New("Error 429 RESOURCE_EXHAUSTED"), "par"), nil
	})

	resp := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "q"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	last := events[len(events)-1]
	if last.Name != "done" {
		t.Fatalf("expected done event, got %q", last.Name)
	}
	var done struct {
		Session models.Session `json:"session"`
		Model   string         `json:"model"`
	}
	decodeJSON(t, []byte(last.Data), &done)
	reply := done.Session.Messages[len(done.Session.Messages)-1]
	if !reply.Error || reply.Text != chat.QuotaNotice {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if done.Model != catalog.Fallback {
		t.Fatalf("expected fallback model, got %s", done.Model)
	}
}

func TestSendValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "hi"})
	assertStatus(t, resp, http.StatusPreconditionFailed)

	srv.signIn(t)
	resp = srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "   "})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = srv.do(t, http.MethodPost, "/api/chat/send", "not-an-object")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestStopWhileStreaming(t *testing.T) {
	srv := newTestServer(t)
	srv.signIn(t)
	started := make(chan struct{})
	srv.completer.setScript(func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
		return func(yield func(string, error) bool) {
			if !yield("half", nil) {
				return
			}
			close(started)
			<-ctx.Done()
			yield("", ctx.Err())
		}, nil
	})

	respCh := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		respCh <- srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "long answer"})
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not start")
	}

	busy := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "again"})
	assertStatus(t, busy, http.StatusConflict)

	stop := srv.do(t, http.MethodPost, "/api/chat/stop", nil)
	assertStatus(t, stop, http.StatusOK)
	var stopBody struct {
		Stopped bool `json:"stopped"`
	}
	decodeJSON(t, stop.Body.Bytes(), &stopBody)
	if !stopBody.Stopped {
		t.Fatalf("expected stop to report a running send")
	}

	var resp *httptest.ResponseRecorder
	select {
	case resp = <-respCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("send did not finish after stop")
	}
	events := parseSSE(t, resp.Body.String())
	var done struct {
		Session models.Session `json:"session"`
	}
	decodeJSON(t, []byte(events[len(events)-1].Data), &done)
	final := done.Session.Messages[len(done.Session.Messages)-1]
	if final.Text != "half"+chat.StopMarker || final.IsStreaming {
		t.Fatalf("unexpected stopped reply %+v", final)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	initial := srv.controller.Active().ID

	resp := srv.do(t, http.MethodPost, "/api/sessions", nil)
	assertStatus(t, resp, http.StatusCreated)
	var created models.Session
	decodeJSON(t, resp.Body.Bytes(), &created)
	if created.ID == 0 || created.Title != models.DefaultTitle {
		t.Fatalf("unexpected created session %+v", created)
	}

	resp = srv.do(t, http.MethodGet, "/api/sessions", nil)
	assertStatus(t, resp, http.StatusOK)
	var list struct {
		Sessions []sessionSummary `json:"sessions"`
		ActiveID int64            `json:"activeId"`
		Loading  bool             `json:"loading"`
	}
	decodeJSON(t, resp.Body.Bytes(), &list)
	if len(list.Sessions) != 2 || list.ActiveID != created.ID || list.Loading {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = srv.do(t, http.MethodPatch, fmt.Sprintf("/api/sessions/%d", initial), map[string]string{"title": "Renamed"})
	assertStatus(t, resp, http.StatusNoContent)
	resp = srv.do(t, http.MethodPatch, fmt.Sprintf("/api/sessions/%d", initial), map[string]string{"title": " "})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = srv.do(t, http.MethodPut, fmt.Sprintf("/api/sessions/%d/active", initial), nil)
	assertStatus(t, resp, http.StatusNoContent)
	if srv.controller.Active().ID != initial {
		t.Fatalf("select did not change the active session")
	}

	resp = srv.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d", initial), nil)
	assertStatus(t, resp, http.StatusOK)
	var got models.Session
	decodeJSON(t, resp.Body.Bytes(), &got)
	if got.Title != "Renamed" {
		t.Fatalf("rename not applied: %q", got.Title)
	}

	resp = srv.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", created.ID), nil)
	assertStatus(t, resp, http.StatusNoContent)
	resp = srv.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d", created.ID), nil)
	assertStatus(t, resp, http.StatusNotFound)
	resp = srv.do(t, http.MethodGet, "/api/sessions/abc", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestResendAndDeleteMessage(t *testing.T) {
	srv := newTestServer(t)
	srv.signIn(t)
	var calls int
	var mu sync.Mutex
	srv.completer.setScript(func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		return reply(fmt.Sprintf("answer %d", n)), nil
	})

	resp := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": "question"})
	assertStatus(t, resp, http.StatusOK)

	resp = srv.do(t, http.MethodPost, "/api/chat/messages/1/resend", nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = srv.do(t, http.MethodPost, "/api/chat/messages/0/resend", nil)
	assertStatus(t, resp, http.StatusOK)
	msgs := srv.controller.Active().Messages
	if len(msgs) != 2 || msgs[0].Text != "question" || msgs[1].Text != "answer 2" {
		t.Fatalf("unexpected messages after resend %+v", msgs)
	}

	resp = srv.do(t, http.MethodDelete, "/api/chat/messages/1", nil)
	assertStatus(t, resp, http.StatusNoContent)
	if n := len(srv.controller.Active().Messages); n != 1 {
		t.Fatalf("expected 1 message after delete, got %d", n)
	}
	resp = srv.do(t, http.MethodDelete, "/api/chat/messages/7", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestModels(t *testing.T) {
	srv := newTestServer(t)
	resp := srv.do(t, http.MethodGet, "/api/models", nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Models []catalog.Model `json:"models"`
		Active string          `json:"active"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Models) != len(catalog.All()) || body.Active != catalog.Default {
		t.Fatalf("unexpected models response %+v", body)
	}

	resp = srv.do(t, http.MethodPut, "/api/models/active", map[string]string{"model": "nope"})
	assertStatus(t, resp, http.StatusBadRequest)
	resp = srv.do(t, http.MethodPut, "/api/models/active", map[string]string{"model": catalog.Fallback})
	assertStatus(t, resp, http.StatusOK)
	if srv.controller.Model() != catalog.Fallback {
		t.Fatalf("model not switched")
	}
}

func TestAttachmentUploadAndPreview(t *testing.T) {
	srv := newTestServer(t)
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "pic.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write(png)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	srv.addCSRF(req)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusCreated)

	var att models.Attachment
	decodeJSON(t, rec.Body.Bytes(), &att)
	if att.Type != models.AttachmentImage || att.MIMEType != "image/png" || att.Data == "" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	resp := srv.do(t, http.MethodGet, att.PreviewURL, nil)
	assertStatus(t, resp, http.StatusOK)
	if !bytes.Equal(resp.Body.Bytes(), png) {
		t.Fatalf("preview body mismatch")
	}
	resp = srv.do(t, http.MethodGet, "/api/attachments/not-a-uuid", nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestExportImportRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	srv.signIn(t)
	for _, text := range []string{"first thread", "second"} {
		resp := srv.do(t, http.MethodPost, "/api/chat/send", map[string]any{"text": text})
		assertStatus(t, resp, http.StatusOK)
	}

	resp := srv.do(t, http.MethodGet, "/api/export", nil)
	assertStatus(t, resp, http.StatusOK)
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "gemini-chat-history.json") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	exported := append([]byte(nil), resp.Body.Bytes()...)
	before := srv.controller.Sessions()

	resp = srv.do(t, http.MethodPost, "/api/import", json.RawMessage(`{"not":"array"}`))
	assertStatus(t, resp, http.StatusBadRequest)
	if len(srv.controller.Sessions()) != len(before) {
		t.Fatalf("rejected import changed state")
	}

	if _, err := srv.controller.CreateSession(context.Background()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	resp = srv.do(t, http.MethodPost, "/api/import", json.RawMessage(exported))
	assertStatus(t, resp, http.StatusOK)

	after := srv.controller.Sessions()
	if len(after) != len(before) {
		t.Fatalf("expected %d sessions after import, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || len(after[i].Messages) != len(before[i].Messages) {
			t.Fatalf("session %d differs after import", i)
		}
		for j := range before[i].Messages {
			if after[i].Messages[j].Text != before[i].Messages[j].Text {
				t.Fatalf("message %d/%d differs after import", i, j)
			}
		}
	}

	resp = srv.do(t, http.MethodGet, "/api/export?format=md", nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), "first thread") {
		t.Fatalf("markdown export missing content")
	}
	resp = srv.do(t, http.MethodGet, "/api/export?format=xml", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

type fakeCompleter struct {
	mu     sync.Mutex
	script func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error)
}

func (f *fakeCompleter) Send(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
	f.mu.Lock()
	script := f.script
	f.mu.Unlock()
	if script == nil {
		return reply("mock-chunk"), nil
	}
	return script(ctx, req)
}

func (f *fakeCompleter) Reset() {}

func (f *fakeCompleter) setScript(s func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error)) {
	f.mu.Lock()
	f.script = s
	f.mu.Unlock()
}

func reply(chunks ...string) iter.Seq2[string, error] {
	return fail(nil, chunks...)
}

func fail(err error, chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

type testServer struct {
	router     *gin.Engine
	controller *chat.Controller
	completer  *fakeCompleter
	csrf       string
	cookieName string
	headerName string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv(storage.SettingsKeyEnv, "")

	store, err := storage.NewStore(storage.NewMemoryKV())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	fc := &fakeCompleter{}
	controller, err := chat.NewController(context.Background(), store, fc, chat.Options{Throttle: time.Millisecond})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	authSvc := auth.NewService(time.Hour)
	stager := attachment.NewStager(t.TempDir(), time.Hour, 1<<20)
	handler := NewHandler(controller, authSvc, stager, "")

	router := gin.New()
	handler.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	assertStatus(t, rec, http.StatusOK)
	var csrfBody struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decodeJSON(t, rec.Body.Bytes(), &csrfBody)
	if csrfBody.ExpiresIn != 3600 {
		t.Fatalf("expected csrf expiry of one hour, got %d", csrfBody.ExpiresIn)
	}

	return &testServer{
		router:     router,
		controller: controller,
		completer:  fc,
		csrf:       csrfBody.Token,
		cookieName: authSvc.CSRFCookieName(),
		headerName: authSvc.CSRFHeaderName(),
	}
}

func (s *testServer) headers() map[string]string {
	return map[string]string{
		s.headerName: s.csrf,
		"Cookie":     s.cookieName + "=" + s.csrf,
	}
}

func (s *testServer) addCSRF(req *http.Request) {
	for k, v := range s.headers() {
		req.Header.Set(k, v)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, s.router, method, path, body, s.headers())
}

func (s *testServer) signIn(t *testing.T) {
	t.Helper()
	resp := s.do(t, http.MethodPut, "/api/settings", map[string]string{"apiKey": testKey, "userName": "tester"})
	assertStatus(t, resp, http.StatusOK)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
