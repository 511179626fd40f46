package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:secret"

type botCall struct {
	method string
	chatID string
	text   string
	photo  []byte
}

type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []botCall
	updates []string
	fail    map[string]bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	failing := f.fail[method]
	f.mu.Unlock()
	if failing {
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
		return
	}

	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Doorbell","username":"doorbell_bot"}}`)
	case "sendMessage":
		_ = r.ParseForm()
		f.record(botCall{method: method, chatID: r.FormValue("chat_id"), text: r.FormValue("text")})
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":4242,"type":"private"}}}`)
	case "sendPhoto":
		call := botCall{method: method}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.chatID = r.FormValue("chat_id")
			if file, _, err := r.FormFile("photo"); err == nil {
				call.photo, _ = io.ReadAll(file)
				file.Close()
			}
		}
		f.record(call)
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":4242,"type":"private"}}}`)
	case "getUpdates":
		f.mu.Lock()
		var batch string
		if len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		}
		f.mu.Unlock()
		if batch == "" {
			time.Sleep(20 * time.Millisecond)
			batch = "[]"
		}
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, batch)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) record(c botCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeBotAPI) recorded() []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]botCall(nil), f.calls...)
}

func newTestBot(t *testing.T, api *fakeBotAPI) *TelegramBot {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	bot, err := NewTelegramBotWithEndpoint(testToken, server.URL+"/bot%s/%s", logger)
	require.NoError(t, err)
	return bot
}

func TestTelegramSendMessage(t *testing.T) {
	api := &fakeBotAPI{}
	bot := newTestBot(t, api)

	require.NoError(t, bot.SendMessage(4242, RingNotification))

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].method)
	assert.Equal(t, "4242", calls[0].chatID)
	assert.Equal(t, RingNotification, calls[0].text)
}

func TestTelegramSendPhoto(t *testing.T) {
	api := &fakeBotAPI{}
	bot := newTestBot(t, api)

	require.NoError(t, bot.SendPhoto(4242, []byte{0xff, 0xd8, 0xff}))

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].method)
	assert.Equal(t, "4242", calls[0].chatID)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, calls[0].photo)
}

func TestTelegramSendFailure(t *testing.T) {
	api := &fakeBotAPI{fail: map[string]bool{"sendMessage": true}}
	bot := newTestBot(t, api)

	err := bot.SendMessage(4242, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramListenDispatchesMessages(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`[{"update_id":10,"edited_message":{"message_id":4,"date":0,"chat":{"id":99,"type":"private"},"text":"edited"}},` +
			`{"update_id":11,"message":{"message_id":5,"date":0,"from":{"id":7,"is_bot":false,"first_name":"Alice"},"chat":{"id":99,"type":"private"},"text":"who is there?"}}]`,
	}}
	bot := newTestBot(t, api)

	received := make(chan ChatMessage, 1)
	bot.OnMessage(func(m ChatMessage) { received <- m })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.Listen(ctx)
		close(done)
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "Alice", msg.SenderName)
		assert.Equal(t, "who is there?", msg.Text)
		assert.Equal(t, int64(99), msg.ChatID)
	case <-time.After(3 * time.Second):
		t.Fatal("message was not dispatched")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
