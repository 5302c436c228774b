package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/en9inerd/go-tgbot/handler"
	"github.com/en9inerd/go-tgbot/httperrors"
	"github.com/en9inerd/go-tgbot/middleware"
	"github.com/en9inerd/go-tgbot/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const messageUpdate = `{"update_id":10,"message":{"message_id":1,"date":1700000000,"chat":{"id":5,"type":"private"},"text":"hi"}}`

type collector struct {
	mu      sync.Mutex
	updates []types.Update
}

func (c *collector) Handle(ctx context.Context, u types.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Errors(t *testing.T) {
	if _, err := NewHandler(nil, Config{}); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}

	bad := []Config{
		{Path: "hook"},
		{Path: "/a b"},
		{SecretToken: "has spaces"},
		{MaxBodySize: -1},
		{Path: "/hook", HealthPath: "/hook"},
	}
	for _, cfg := range bad {
		if _, err := NewHandler(&collector{}, cfg); !httperrors.IsValidationError(err) {
			t.Errorf("expected validation error for %+v, got %v", cfg, err)
		}
	}
}

func TestHandler_DeliversUpdate(t *testing.T) {
	c := &collector{}
	h, err := NewHandler(c, Config{Path: "/tg"})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	rec := post(h, "/tg", messageUpdate, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
	if c.count() != 1 {
		t.Fatalf("expected 1 update, got %d", c.count())
	}
	u := c.updates[0]
	if u.ID != 10 || u.Kind != types.AllowedMessage || u.Message.Text != "hi" {
		t.Errorf("unexpected update %+v", u)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Errorf("expected request id header")
	}
}

func TestHandler_HandlerRunsBeforeReply(t *testing.T) {
	var finished bool
	h, _ := NewHandler(handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		time.Sleep(10 * time.Millisecond)
		finished = true
	}), Config{})

	rec := post(h, "/", messageUpdate, nil)
	if rec.Code != http.StatusOK || !finished {
		t.Errorf("expected the handler to finish before the reply, code %d", rec.Code)
	}
}

func TestHandler_Rejections(t *testing.T) {
	c := &collector{}
	h, _ := NewHandler(c, Config{Path: "/tg", MaxBodySize: 64})

	req := httptest.NewRequest(http.MethodGet, "/tg", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", allow)
	}

	if rec := post(h, "/elsewhere", messageUpdate, nil); rec.Code != http.StatusNotFound {
		t.Errorf("other path: expected 404, got %d", rec.Code)
	}
	if rec := post(h, "/tg", `{"update_id":`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("broken JSON: expected 400, got %d", rec.Code)
	}
	if rec := post(h, "/tg", `{"message":{}}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing update_id: expected 400, got %d", rec.Code)
	}
	if rec := post(h, "/tg", messageUpdate, nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: expected 413, got %d", rec.Code)
	}
	if c.count() != 0 {
		t.Errorf("expected no updates to reach the handler, got %d", c.count())
	}
}

func TestHandler_RootPathDoesNotCatchAll(t *testing.T) {
	h, _ := NewHandler(&collector{}, Config{})
	if rec := post(h, "/other", messageUpdate, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_SecretToken(t *testing.T) {
	c := &collector{}
	h, _ := NewHandler(c, Config{SecretToken: "s3cret"})

	if rec := post(h, "/", messageUpdate, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	rec := post(h, "/", messageUpdate, map[string]string{middleware.SecretTokenHeader: "s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rec.Code)
	}
	if c.count() != 1 {
		t.Errorf("expected 1 update, got %d", c.count())
	}
}

func TestHandler_TelegramOnly(t *testing.T) {
	h, _ := NewHandler(&collector{}, Config{TelegramOnly: true})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(messageUpdate))
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(messageUpdate))
	req.RemoteAddr = "91.108.4.20:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_PanicBecomes500(t *testing.T) {
	h, _ := NewHandler(handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		panic("boom")
	}), Config{})

	if rec := post(h, "/", messageUpdate, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestHandler_Health(t *testing.T) {
	h, _ := NewHandler(&collector{}, Config{Path: "/tg", HealthPath: "/healthz"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServeListener(t *testing.T) {
	c := &collector{}
	h, _ := NewHandler(c, Config{Path: "/tg"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- ServeListener(ctx, ln, h)
	}()

	transport := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: transport, Timeout: 2 * time.Second}
	resp, err := client.Post("http://"+ln.Addr().String()+"/tg", "application/json", strings.NewReader(messageUpdate))
	if err != nil {
		cancel()
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	transport.CloseIdleConnections()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if c.count() != 1 {
		t.Errorf("expected 1 update, got %d", c.count())
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ListenError(t *testing.T) {
	if err := Serve(context.Background(), "256.0.0.1:99999", http.NotFoundHandler()); err == nil {
		t.Errorf("expected listen error")
	}
}
