package notify

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.jp", "b@x.jp", "c@x.jp"}, ParseRecipients(" a@x.jp; b@x.jp ,c@x.jp;;"))
	assert.Empty(t, ParseRecipients(""))
	assert.Empty(t, ParseRecipients(" ; , "))
}

func TestBuildMessage(t *testing.T) {
	date := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	msg := string(BuildMessage("ops@x.jp", []string{"a@x.jp", "b@x.jp"}, "取込失敗", "exit 1\n最後の行", date))

	assert.Contains(t, msg, "From: ops@x.jp\r\n")
	assert.Contains(t, msg, "To: a@x.jp, b@x.jp\r\n")
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")

	parts := strings.SplitN(msg, "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	body, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(parts[1], "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, "exit 1\n最後の行", string(body))
}

func TestBuildMessage_WrapsBody(t *testing.T) {
	msg := string(BuildMessage("a", []string{"b"}, "s", strings.Repeat("x", 500), time.Now()))
	body := strings.SplitN(msg, "\r\n\r\n", 2)[1]
	for _, line := range strings.Split(strings.TrimRight(body, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
}

func TestMailer_Incomplete(t *testing.T) {
	m := NewMailer(MailerConfig{Host: "smtp.example.com", User: "u"})
	assert.False(t, m.Configured())
	err := m.Notify(context.Background(), "s", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// fakeSMTP is a minimal plaintext relay recording one transaction
type fakeSMTP struct {
	ln    net.Listener
	mu    sync.Mutex
	auth  string
	from  string
	rcpts []string
	data  string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeSMTP) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-fake")
			reply("250 AUTH PLAIN")
		case "AUTH":
			f.mu.Lock()
			f.auth = line
			f.mu.Unlock()
			reply("235 ok")
		case "MAIL":
			f.mu.Lock()
			f.from = line
			f.mu.Unlock()
			reply("250 ok")
		case "RCPT":
			f.mu.Lock()
			f.rcpts = append(f.rcpts, line)
			f.mu.Unlock()
			reply("250 ok")
		case "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestMailer_SendsOverPlaintextRelay(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewMailer(MailerConfig{
		Host:           "127.0.0.1",
		Port:           srv.port(),
		User:           "ops@example.com",
		Password:       "secret",
		To:             []string{"a@example.com", "b@example.com"},
		Timeout:        5 * time.Second,
		AllowPlaintext: true,
	})

	require.NoError(t, m.Notify(context.Background(), "ingest failed", "tail of log"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, strings.HasPrefix(srv.auth, "AUTH PLAIN "))
	assert.Contains(t, srv.from, "<ops@example.com>")
	assert.Len(t, srv.rcpts, 2)
	assert.Contains(t, srv.data, "From: ops@example.com")
	assert.Contains(t, srv.data, "Subject: ingest failed")
}

func TestMailer_RequiresStartTLS(t *testing.T) {
	srv := startFakeSMTP(t)
	m := NewMailer(MailerConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		User:     "u",
		Password: "p",
		To:       []string{"a@example.com"},
		Timeout:  5 * time.Second,
	})
	err := m.Notify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.Contains(t, err.Error(), strconv.Itoa(srv.port()))
}

func TestSlack_Notify(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &Slack{WebhookURL: srv.URL}
	require.NoError(t, s.Notify(context.Background(), "deploy failed", "migrate exit 2"))
	assert.Contains(t, got["text"], "deploy failed")
	assert.Contains(t, got["text"], "migrate exit 2")
}

func TestSlack_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := (&Slack{WebhookURL: srv.URL}).Notify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

type stubNotifier struct {
	name string
	err  error
	hits int
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Notify(context.Context, string, string) error {
	s.hits++
	return s.err
}

func TestFanout(t *testing.T) {
	t.Run("one channel is enough", func(t *testing.T) {
		bad := &stubNotifier{name: "email", err: errors.New("refused")}
		good := &stubNotifier{name: "slack"}
		f := &Fanout{Notifiers: []Notifier{bad, good}}
		assert.NoError(t, f.Notify(context.Background(), "s", "b"))
		assert.Equal(t, 1, bad.hits)
		assert.Equal(t, 1, good.hits)
	})

	t.Run("nothing configured", func(t *testing.T) {
		f := &Fanout{Notifiers: []Notifier{
			&stubNotifier{name: "email", err: ErrNotConfigured},
		}}
		assert.ErrorIs(t, f.Notify(context.Background(), "s", "b"), ErrNotConfigured)
	})

	t.Run("every channel failed", func(t *testing.T) {
		boom := errors.New("boom")
		f := &Fanout{Notifiers: []Notifier{&stubNotifier{name: "email", err: boom}}}
		assert.ErrorIs(t, f.Notify(context.Background(), "s", "b"), boom)
	})
}
