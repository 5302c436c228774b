package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/internal/offsetstore"
	"github.com/en9inerd/go-tgbot/middleware"
)

const (
	testToken = "123456:TEST-token"
	testBotID = 123456
)

// fakeBot is a minimal Bot API server. The first getUpdates call returns batch, later
// calls return nothing after a short pause.
type fakeBot struct {
	mu         sync.Mutex
	batch      string
	offsets    []int64
	sent       []botapi.SendMessage
	deleted    int
	setWebhook *botapi.SetWebhook

	polled chan int64
	echoed chan botapi.SendMessage
}

func newFakeBot(batch string) *fakeBot {
	return &fakeBot{
		batch:  batch,
		polled: make(chan int64, 100),
		echoed: make(chan botapi.SendMessage, 10),
	}
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	w.Header().Set("Content-Type", "application/json")

	switch method {
	case "getMe":
		io.WriteString(w, `{"ok":true,"result":{"id":123456,"is_bot":true,"first_name":"Echo","username":"echo_bot"}}`)
	case "deleteWebhook":
		b.mu.Lock()
		b.deleted++
		b.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":true}`)
	case "setWebhook":
		var m botapi.SetWebhook
		json.NewDecoder(r.Body).Decode(&m)
		b.mu.Lock()
		b.setWebhook = &m
		b.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":true}`)
	case "getWebhookInfo":
		io.WriteString(w, `{"ok":true,"result":{"url":"https://example.com/hook","has_custom_certificate":false,"pending_update_count":3,"last_error_date":1700000000,"last_error_message":"Connection refused"}}`)
	case "getUpdates":
		var m struct {
			Offset int64 `json:"offset"`
		}
		json.NewDecoder(r.Body).Decode(&m)
		b.mu.Lock()
		b.offsets = append(b.offsets, m.Offset)
		batch := b.batch
		b.batch = ""
		b.mu.Unlock()
		select {
		case b.polled <- m.Offset:
		default:
		}
		if batch == "" {
			time.Sleep(10 * time.Millisecond)
			batch = "[]"
		}
		io.WriteString(w, `{"ok":true,"result":`+batch+`}`)
	case "sendMessage":
		var m botapi.SendMessage
		json.NewDecoder(r.Body).Decode(&m)
		b.mu.Lock()
		b.sent = append(b.sent, m)
		b.mu.Unlock()
		b.echoed <- m
		io.WriteString(w, `{"ok":true,"result":{"message_id":2,"date":1,"chat":{"id":777,"type":"private"},"text":"hi"}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (b *fakeBot) firstOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.offsets) == 0 {
		return -1
	}
	return b.offsets[0]
}

type testHarness struct {
	app     *app
	signals chan chan<- os.Signal
	ln      chan net.Listener
	out     *bytes.Buffer
}

func newHarness() *testHarness {
	h := &testHarness{
		signals: make(chan chan<- os.Signal, 1),
		ln:      make(chan net.Listener, 1),
		out:     &bytes.Buffer{},
	}
	h.app = &app{
		level:     new(slog.LevelVar),
		getenv:    func(string) string { return "" },
		readToken: func(io.Writer) (string, error) { return "", errNoToken },
		notify:    func(c chan<- os.Signal) { h.signals <- c },
		listen: func(addr string) (net.Listener, error) {
			ln, err := net.Listen("tcp", addr)
			if err == nil {
				h.ln <- ln
			}
			return ln, err
		},
	}
	return h
}

func (h *testHarness) command(args ...string) *cobra.Command {
	root := newRoot(h.app)
	root.SetArgs(args)
	root.SetOut(h.out)
	root.SetErr(h.out)
	return root
}

func (h *testHarness) start(t *testing.T, args ...string) <-chan error {
	t.Helper()
	root := h.command(args...)
	errc := make(chan error, 1)
	go func() { errc <- root.Execute() }()
	return errc
}

func (h *testHarness) signal(t *testing.T) chan<- os.Signal {
	t.Helper()
	select {
	case c := <-h.signals:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler was never installed")
		return nil
	}
}

func wait[T any](t *testing.T, c <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

const helloBatch = `[{"update_id":5,"message":{"message_id":1,"date":1,"chat":{"id":777,"type":"private"},"text":"hi"}}]`

func TestPoll_EchoesAndPersistsOffset(t *testing.T) {
	db := filepath.Join(t.TempDir(), "offsets.db")

	bot := newFakeBot(helloBatch)
	server := httptest.NewServer(bot)
	defer server.Close()

	h := newHarness()
	errc := h.start(t, "poll", "--token", testToken, "--api-url", server.URL, "--poll-timeout=-1s", "--offset-db", db)
	sigs := h.signal(t)

	sent := wait(t, bot.echoed, "echo")
	if sent.ChatID != 777 || sent.Text != "hi" {
		t.Errorf("unexpected echo %+v", sent)
	}
	if sent.ReplyParameters == nil || sent.ReplyParameters.MessageID != 1 {
		t.Errorf("expected a reply to message 1, got %+v", sent.ReplyParameters)
	}

	sigs <- os.Interrupt
	if err := wait(t, errc, "poll to stop"); err != nil {
		t.Fatalf("poll returned %v", err)
	}
	bot.mu.Lock()
	deleted := bot.deleted
	bot.mu.Unlock()
	if deleted != 1 {
		t.Errorf("expected one deleteWebhook call, got %d", deleted)
	}
	if got := bot.firstOffset(); got != 1 {
		t.Errorf("expected first poll at offset 1, got %d", got)
	}

	store, err := offsetstore.New(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	saved, ok, err := store.Load(context.Background(), testBotID)
	if err != nil || !ok || saved != 5 {
		t.Fatalf("expected saved offset 5, got %d ok=%v err=%v", saved, ok, err)
	}
}

func TestPoll_ResumesFromSavedOffset(t *testing.T) {
	db := filepath.Join(t.TempDir(), "offsets.db")
	store, err := offsetstore.New(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.AutoMigrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, testBotID, 41); err != nil {
		t.Fatal(err)
	}
	store.Close()

	bot := newFakeBot("")
	server := httptest.NewServer(bot)
	defer server.Close()

	h := newHarness()
	errc := h.start(t, "poll", "--token", testToken, "--api-url", server.URL, "--poll-timeout=-1s", "--offset-db", db)
	sigs := h.signal(t)

	if offset := wait(t, bot.polled, "getUpdates"); offset != 42 {
		t.Errorf("expected to resume at offset 42, got %d", offset)
	}
	sigs <- os.Interrupt
	if err := wait(t, errc, "poll to stop"); err != nil {
		t.Fatalf("poll returned %v", err)
	}
}

func TestPoll_SecondSignalStopsAtOnce(t *testing.T) {
	blocked := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":123456,"is_bot":true,"first_name":"Echo"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			// hold the poll open until the client gives up
			select {
			case blocked <- struct{}{}:
			default:
			}
			<-r.Context().Done()
		default:
			io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	defer server.Close()

	h := newHarness()
	errc := h.start(t, "poll", "--token", testToken, "--api-url", server.URL, "--poll-timeout=30s")
	sigs := h.signal(t)
	wait(t, blocked, "getUpdates")

	sigs <- os.Interrupt
	select {
	case err := <-errc:
		t.Fatalf("poll stopped during a pending call: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	sigs <- os.Interrupt
	if err := wait(t, errc, "poll to stop"); err != nil {
		t.Fatalf("poll returned %v", err)
	}
}

func TestPoll_RejectsUnknownAllowedUpdate(t *testing.T) {
	h := newHarness()
	err := h.command("poll", "--token", testToken, "--allowed-updates", "message,bogus").Execute()
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected an error naming the bad kind, got %v", err)
	}
}

func TestWebhook_RegistersAndServes(t *testing.T) {
	bot := newFakeBot("")
	server := httptest.NewServer(bot)
	defer server.Close()

	h := newHarness()
	errc := h.start(t, "webhook", "--token", testToken, "--api-url", server.URL,
		"--url", "https://bot.example.com/hook", "--path", "/hook", "--secret", "s3cret", "--listen", "127.0.0.1:0")
	sigs := h.signal(t)
	ln := wait(t, h.ln, "listener")

	req, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/hook", strings.NewReader(
		`{"update_id":9,"message":{"message_id":3,"date":1,"chat":{"id":777,"type":"private"},"text":"hi"}}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(middleware.SecretTokenHeader, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if sent := wait(t, bot.echoed, "echo"); sent.Text != "hi" {
		t.Errorf("unexpected echo %+v", sent)
	}

	sigs <- os.Interrupt
	if err := wait(t, errc, "server to stop"); err != nil {
		t.Fatalf("webhook returned %v", err)
	}

	bot.mu.Lock()
	defer bot.mu.Unlock()
	if bot.setWebhook == nil || bot.setWebhook.URL != "https://bot.example.com/hook" || bot.setWebhook.SecretToken != "s3cret" {
		t.Errorf("unexpected setWebhook call %+v", bot.setWebhook)
	}
}

func TestWebhook_RequiresURL(t *testing.T) {
	h := newHarness()
	err := h.command("webhook", "--token", testToken).Execute()
	if err == nil || !strings.Contains(err.Error(), "url") {
		t.Errorf("expected missing url error, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	server := httptest.NewServer(newFakeBot(""))
	defer server.Close()

	h := newHarness()
	if err := h.command("info", "--token", testToken, "--api-url", server.URL).Execute(); err != nil {
		t.Fatal(err)
	}
	out := h.out.String()
	for _, want := range []string{"@echo_bot", "123456", "https://example.com/hook", "pending:  3", "Connection refused", "2023-11-14T22:13:20Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestResolveToken(t *testing.T) {
	cmd := &cobra.Command{}
	envToken := "222:ENV-token"
	fileToken := "333:FILE-token"

	a := newHarness().app
	a.cfg = &Config{Token: fileToken}
	a.getenv = func(string) string { return envToken }
	a.token = testToken
	if got, _ := a.resolveToken(cmd); got != testToken {
		t.Errorf("flag should win, got %q", got)
	}

	a.token = ""
	if got, _ := a.resolveToken(cmd); got != envToken {
		t.Errorf("environment should beat the file, got %q", got)
	}

	a.getenv = func(string) string { return "" }
	if got, _ := a.resolveToken(cmd); got != fileToken {
		t.Errorf("expected file token, got %q", got)
	}

	a.cfg = &Config{}
	if _, err := a.resolveToken(cmd); !errors.Is(err, errNoToken) {
		t.Errorf("expected errNoToken, got %v", err)
	}

	a.readToken = func(io.Writer) (string, error) { return "444:PROMPT", nil }
	if got, _ := a.resolveToken(cmd); got != "444:PROMPT" {
		t.Errorf("expected prompted token, got %q", got)
	}

	a.token = "not-a-token"
	if _, err := a.resolveToken(cmd); err == nil {
		t.Errorf("expected malformed token to be rejected")
	}
}
