package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestClient(baseURL string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	return NewClient(cfg, testLogger())
}

// chatServer returns a completions endpoint that serves the given message
// content.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_DraftReminder(t *testing.T) {
	srv := chatServer(t, `{"subject":"Invoice INV-1001 Overdue","body":"Please remit payment at your earliest convenience."}`)
	defer srv.Close()

	client := newTestClient(srv.URL)
	draft, err := client.DraftReminder(context.Background(), &ReminderContext{
		CompanyName:   "Acme Permit Expediting",
		ClientName:    "Hudson Builders LLC",
		InvoiceNumber: "INV-1001",
		AmountDue:     4200,
		DaysOverdue:   45,
		Tone:          "firm",
		Urgency:       "low",
	})
	if err != nil {
		t.Fatalf("draft reminder: %v", err)
	}
	if draft.Subject != "Invoice INV-1001 Overdue" {
		t.Fatalf("subject = %q", draft.Subject)
	}
}

func TestClient_DraftReminderRejectsNonJSON(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"markdown fence", "```json\n{\"subject\":\"s\",\"body\":\"b\"}\n```"},
		{"leading prose", `Sure! {"subject":"s","body":"b"}`},
		{"trailing data", `{"subject":"s","body":"b"} trailing`},
		{"unknown field", `{"subject":"s","body":"b","tone":"firm"}`},
		{"empty body", `{"subject":"s","body":"  "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.content)
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.DraftReminder(context.Background(), &ReminderContext{})
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestClient_ExtractCollections(t *testing.T) {
	content := `{"tasks":[{"task_type":"follow_up_call","priority":2,"due_in_days":3,"rationale":"call back Thursday"}],` +
		`"promises":[{"promised_amount":4200,"promised_date":"2026-09-15","payment_method":"wire","confidence":"medium","notes":"wire by the 15th"}]}`
	srv := chatServer(t, content)
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.ExtractCollections(context.Background(), &ExtractionContext{
		NoteText:  "AP says they will wire $4,200 by the 15th, call back Thursday",
		AmountDue: 4200,
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.Tasks) != 1 || len(result.Promises) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Promises[0].PaymentMethod != "wire" || result.Promises[0].Confidence != "medium" {
		t.Fatalf("promise = %+v", result.Promises[0])
	}
}

func TestClient_ExtractCollectionsValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown task type", `{"tasks":[{"task_type":"send_fax","priority":2,"due_in_days":1,"rationale":"r"}],"promises":[]}`},
		{"priority out of range", `{"tasks":[{"task_type":"send_email","priority":5,"due_in_days":1,"rationale":"r"}],"promises":[]}`},
		{"negative due days", `{"tasks":[{"task_type":"send_email","priority":2,"due_in_days":-1,"rationale":"r"}],"promises":[]}`},
		{"unknown confidence", `{"tasks":[],"promises":[{"promised_amount":1,"promised_date":"2026-09-01","payment_method":"","confidence":"certain","notes":""}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, tc.content)
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.ExtractCollections(context.Background(), &ExtractionContext{NoteText: "note"})
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestClient_RateLimited(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DraftReminder(context.Background(), &ReminderContext{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// Rate limiting is not retried; the caller backs off instead.
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClient_QuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"billing hard limit reached"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.ExtractCollections(context.Background(), &ExtractionContext{NoteText: "note"})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
}

func TestClient_InsufficientQuotaErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DraftReminder(context.Background(), &ReminderContext{})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"subject":"s","body":"b"}`}},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	draft, err := client.DraftReminder(context.Background(), &ReminderContext{})
	if err != nil {
		t.Fatalf("draft after retries: %v", err)
	}
	if draft.Subject != "s" {
		t.Fatalf("draft = %+v", draft)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.DraftReminder(context.Background(), &ReminderContext{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "upstream error [500]") {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want initial attempt plus 2 retries", calls)
	}
}

func TestStrictUnmarshal(t *testing.T) {
	var draft ReminderDraft
	if err := strictUnmarshal(`{"subject":"s","body":"b"}`, &draft); err != nil {
		t.Fatalf("valid payload: %v", err)
	}
	if err := strictUnmarshal(`{"subject":"s","body":"b"}{"subject":"s2"}`, &draft); !errors.Is(err, ErrMalformed) {
		t.Fatalf("concatenated objects: err = %v", err)
	}
	if err := strictUnmarshal(`{"subject":"s","extra":true}`, &draft); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown field: err = %v", err)
	}
}
