package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"bcpea_notifier/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() deliveryPolicy {
	return deliveryPolicy{attempts: 2, delay: time.Millisecond}
}

func plovdivGroup() model.GroupReport {
	return model.GroupReport{
		GroupID:  3,
		Category: model.CategoryProperty,
		Court:    16,
		Region:   "Plovdiv",
		Count:    1,
		Listings: []model.Listing{{
			Category:   model.CategoryProperty,
			Title:      "Апартамент",
			Settlement: "гр. Пловдив",
			Address:    "ул. Лозенец 5",
			Area:       "75 кв.м",
			Price:      "85 000 лв.",
			KaisID:     "56784.506.123.1.5",
			URL:        "https://sales.bcpea.org/properties/101",
			ImageURL:   "https://sales.bcpea.org/img/101.jpg",
		}},
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *recordingNotifier) Notify(_ context.Context, user string, groups []model.GroupReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, user)
	if r.fail[user] {
		return errors.New("boom")
	}
	return nil
}

func TestDispatch(t *testing.T) {
	report := model.NewRunReport()
	report.Add("b@example.com", plovdivGroup())
	report.Add("a@example.com", plovdivGroup())
	report.Add("c@example.com", plovdivGroup())

	first := &recordingNotifier{fail: map[string]bool{"b@example.com": true}}
	second := &recordingNotifier{}

	st, err := Dispatch(context.Background(), report, discardLogger(), first, second)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	wantUsers := []string{"a@example.com", "b@example.com", "c@example.com"}
	if diff := cmp.Diff(wantUsers, first.calls); diff != "" {
		t.Errorf("first notifier calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantUsers, second.calls); diff != "" {
		t.Errorf("second notifier calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Users: 3, Sent: 5, Failed: 1}, st); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchEmptyReport(t *testing.T) {
	n := &recordingNotifier{}
	for _, report := range []*model.RunReport{nil, model.NewRunReport()} {
		st, err := Dispatch(context.Background(), report, discardLogger(), n)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if st != (Stats{}) {
			t.Errorf("stats = %+v, want zero", st)
		}
	}
	if len(n.calls) != 0 {
		t.Errorf("notifier called %d times, want 0", len(n.calls))
	}
}

func TestDispatchCancelled(t *testing.T) {
	report := model.NewRunReport()
	report.Add("a@example.com", plovdivGroup())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := &recordingNotifier{}
	if _, err := Dispatch(ctx, report, discardLogger(), n); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(n.calls) != 0 {
		t.Errorf("notifier called %d times, want 0", len(n.calls))
	}
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeProvider struct {
	sent []sentEmail
	err  error
}

func (f *fakeProvider) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentEmail{To: to, Subject: subject, Body: body})
	return f.err
}

func TestEmailNotifier(t *testing.T) {
	p := &fakeProvider{}
	n := NewEmailNotifier(p, discardLogger())
	n.now = func() time.Time { return time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC) }

	if err := n.Notify(context.Background(), "a@example.com", []model.GroupReport{plovdivGroup()}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(p.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(p.sent))
	}
	got := p.sent[0]
	if got.To != "a@example.com" {
		t.Errorf("to = %q", got.To)
	}
	if got.Subject != "BCPEA Summary 2024-05-17" {
		t.Errorf("subject = %q", got.Subject)
	}
	for _, want := range []string{"Plovdiv", "Filter Group 3", "56784.506.123.1.5", "sales.bcpea.org/properties/101"} {
		if !strings.Contains(got.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestEmailNotifierSkipsEmpty(t *testing.T) {
	p := &fakeProvider{}
	n := NewEmailNotifier(p, discardLogger())
	if err := n.Notify(context.Background(), "a@example.com", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(p.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(p.sent))
	}
}

func TestEmailNotifierProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("relay down")}
	n := NewEmailNotifier(p, discardLogger())
	err := n.Notify(context.Background(), "a@example.com", []model.GroupReport{plovdivGroup()})
	if err == nil || !strings.Contains(err.Error(), "relay down") {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}

func TestRenderHTML(t *testing.T) {
	vehicle := model.GroupReport{
		GroupID:  7,
		Category: model.CategoryVehicle,
		Court:    0,
		Region:   "All Courts",
		Count:    1,
		Listings: []model.Listing{{
			Category:   model.CategoryVehicle,
			Title:      "Лек автомобил <script>alert(1)</script>",
			Settlement: "гр. Варна",
			Price:      "4 000 лв.",
			URL:        "https://sales.bcpea.org/vehicles/55",
		}},
	}
	empty := model.GroupReport{GroupID: 9, Category: model.CategoryProperty, Region: "Sofia", Count: 0}

	out := RenderHTML([]model.GroupReport{plovdivGroup(), vehicle, empty}, time.Date(2024, 5, 17, 8, 30, 0, 0, time.UTC))

	for _, want := range []string{
		"Listings Summary",
		"Filter Group 3",
		"Filter Group 7",
		"Filter Group 9",
		"0 properties found",
		"1 vehicles found",
		"maps.google.com",
		"kais.cadastre.bg",
		"2024-05-17 08:30",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, "<script>") {
		t.Error("listing title was not escaped")
	}
}

func TestRenderHTMLMissingKaisID(t *testing.T) {
	g := plovdivGroup()
	g.Listings[0].KaisID = ""
	out := RenderHTML([]model.GroupReport{g}, time.Now())
	if !strings.Contains(out, "Not found") {
		t.Error("missing KaisCadastre ID should render as Not found")
	}
}

func TestSanitizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a@example.com", "a@example.com"},
		{"a@example.com\r\nBcc: evil@example.com", "a@example.comBcc: evil@example.com"},
		{"tab\there", "tabhere"},
		{"Пловдив", "Пловдив"},
	}
	for _, tt := range tests {
		if got := sanitizeHeader(tt.in); got != tt.want {
			t.Errorf("sanitizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type smtpCall struct {
	addr string
	from string
	to   []string
	msg  string
	auth bool
}

func TestSMTPProviderSend(t *testing.T) {
	var calls []smtpCall
	p := NewSMTPProvider(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Password: "secret",
		FromAddr: "notifier@example.com",
		FromName: "BCPEA Notifier",
	}, discardLogger())
	p.policy = testPolicy()
	p.now = func() time.Time { return time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC) }
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		calls = append(calls, smtpCall{addr: addr, from: from, to: to, msg: string(msg), auth: a != nil})
		return nil
	}

	if err := p.Send(context.Background(), "a@example.com\r\n", "BCPEA Summary 2024-05-17", "<p>hi</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("sendMail called %d times, want 1", len(calls))
	}
	c := calls[0]
	if c.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", c.addr)
	}
	if c.from != "notifier@example.com" {
		t.Errorf("from = %q", c.from)
	}
	if diff := cmp.Diff([]string{"a@example.com"}, c.to); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	if !c.auth {
		t.Error("expected PLAIN auth when a password is set")
	}
	for _, want := range []string{
		"To: a@example.com\r\n",
		"Subject: BCPEA Summary 2024-05-17\r\n",
		"<notifier@example.com>",
		"Content-Type: text/html; charset=utf-8\r\n",
		"\r\n\r\n<p>hi</p>",
	} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message missing %q:\n%s", want, c.msg)
		}
	}
}

func TestSMTPProviderRetries(t *testing.T) {
	attempts := 0
	p := NewSMTPProvider(SMTPConfig{Host: "localhost", Port: 25, FromAddr: "n@example.com"}, discardLogger())
	p.policy = testPolicy()
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		attempts++
		if attempts == 1 {
			return errors.New("421 try later")
		}
		return nil
	}

	if err := p.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestSMTPProviderGivesUp(t *testing.T) {
	attempts := 0
	p := NewSMTPProvider(SMTPConfig{Host: "localhost", Port: 25, FromAddr: "n@example.com"}, discardLogger())
	p.policy = testPolicy()
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		attempts++
		return errors.New("connection reset by peer")
	}

	if err := p.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestSMTPProviderReplyCodes(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
	}{
		{name: "auth failure not retried", err: &textproto.Error{Code: 535, Msg: "authentication failed"}, wantAttempts: 1},
		{name: "mailbox rejected not retried", err: &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, wantAttempts: 1},
		{name: "transient reply retried", err: &textproto.Error{Code: 421, Msg: "try again later"}, wantAttempts: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			p := NewSMTPProvider(SMTPConfig{Host: "localhost", Port: 25, FromAddr: "n@example.com"}, discardLogger())
			p.policy = testPolicy()
			p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
				attempts++
				return tt.err
			}

			if err := p.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
				t.Fatal("expected error")
			}
			if diff := cmp.Diff(tt.wantAttempts, attempts); diff != "" {
				t.Errorf("attempts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBrevoProviderSend(t *testing.T) {
	var got brevoSendRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key-123", "n@example.com", "BCPEA Notifier", discardLogger())
	p.endpoint = srv.URL
	p.policy = testPolicy()

	if err := p.Send(context.Background(), "a@example.com", "Subject", "<p>x</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if apiKey != "key-123" {
		t.Errorf("api-key header = %q", apiKey)
	}
	want := brevoSendRequest{
		Sender:  brevoContact{Email: "n@example.com", Name: "BCPEA Notifier"},
		To:      []brevoContact{{Email: "a@example.com"}},
		Subject: "Subject",
		HTML:    "<p>x</p>",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestBrevoProviderErrorStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewBrevoProvider("k", "n@example.com", "", discardLogger())
	p.endpoint = srv.URL
	p.policy = testPolicy()

	err := p.Send(context.Background(), "a@example.com", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("err = %v, want HTTP 502", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBrevoProviderClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewBrevoProvider("k", "n@example.com", "", discardLogger())
	p.endpoint = srv.URL
	p.policy = testPolicy()

	if err := p.Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

type mockTelegram struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg)
	}
	return tgbotapi.Message{}, m.err
}

func TestTelegramNotifier(t *testing.T) {
	api := &mockTelegram{}
	n := newTelegramNotifier(api, map[string]int64{" A@Example.com ": 42}, discardLogger())

	if err := n.Notify(context.Background(), "a@example.com", []model.GroupReport{plovdivGroup()}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	msg := api.sent[0]
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	for _, want := range []string{"Plovdiv", "filter group 3", "KaisCadastre ID: 56784.506.123.1.5", "https://sales.bcpea.org/properties/101"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestTelegramNotifierUnknownChat(t *testing.T) {
	api := &mockTelegram{}
	n := newTelegramNotifier(api, map[string]int64{"a@example.com": 42}, discardLogger())
	if err := n.Notify(context.Background(), "b@example.com", []model.GroupReport{plovdivGroup()}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(api.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(api.sent))
	}
}

func TestTelegramNotifierSendError(t *testing.T) {
	api := &mockTelegram{err: errors.New("forbidden")}
	n := newTelegramNotifier(api, map[string]int64{"a@example.com": 42}, discardLogger())
	if err := n.Notify(context.Background(), "a@example.com", []model.GroupReport{plovdivGroup()}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatTelegramSplits(t *testing.T) {
	g := model.GroupReport{GroupID: 1, Category: model.CategoryVehicle, Region: "Sofia"}
	for i := 0; i < 200; i++ {
		g.Listings = append(g.Listings, model.Listing{
			Category:   model.CategoryVehicle,
			Title:      strings.Repeat("Лек автомобил ", 3),
			Settlement: "гр. София",
			Price:      "1 000 лв.",
			URL:        "https://sales.bcpea.org/vehicles/123456",
		})
	}
	g.Count = len(g.Listings)

	msgs := FormatTelegram([]model.GroupReport{g})
	if len(msgs) < 2 {
		t.Fatalf("got %d messages, want the summary split", len(msgs))
	}
	total := 0
	for i, m := range msgs {
		if n := len([]rune(m)); n > telegramLimit {
			t.Errorf("message %d has %d runes, over the limit", i, n)
		}
		total += strings.Count(m, "https://sales.bcpea.org/vehicles/123456")
	}
	if total != 200 {
		t.Errorf("listings across messages = %d, want 200", total)
	}
}
