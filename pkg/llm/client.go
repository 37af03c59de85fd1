package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Client talks to an OpenAI-compatible chat completions endpoint and
// enforces structured JSON output. Any non-conforming response is rejected
// deterministically rather than patched up.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
}

var _ Generator = (*Client)(nil)

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// DraftReminder produces a subject/body reminder draft for an overdue
// invoice. The draft still requires human approval before any send.
func (c *Client) DraftReminder(ctx context.Context, rc *ReminderContext) (*ReminderDraft, error) {
	system := "You draft professional accounts-receivable reminder emails for a construction permit expediting firm. " +
		"Respond with a JSON object {\"subject\": string, \"body\": string} and nothing else. " +
		fmt.Sprintf("Use a %s tone; urgency is %s.", orDefault(rc.Tone, "friendly"), orDefault(rc.Urgency, "low"))

	user, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("marshal reminder context: %w", err)
	}

	content, err := c.complete(ctx, "llm.draft_reminder", system, string(user))
	if err != nil {
		return nil, err
	}

	var draft ReminderDraft
	if err := strictUnmarshal(content, &draft); err != nil {
		return nil, err
	}
	if strings.TrimSpace(draft.Subject) == "" || strings.TrimSpace(draft.Body) == "" {
		return nil, fmt.Errorf("%w: empty subject or body", ErrMalformed)
	}
	return &draft, nil
}

// ExtractCollections asks the model to pull action items and payment
// commitments out of a free-text collection note. Output is validated
// strictly; a single non-conforming item fails the whole call.
func (c *Client) ExtractCollections(ctx context.Context, ec *ExtractionContext) (*ExtractionResult, error) {
	system := "You analyze collection call notes for an accounts-receivable team. " +
		"Extract follow-up tasks only from clearly actionable language; never invent tasks from generic notes. " +
		"Extract payment promises only from explicit commitment language (a date, amount, or payment method). " +
		"Respond with a JSON object {\"tasks\": [...], \"promises\": [...]} and nothing else. " +
		"Each task has task_type (follow_up_call|send_email|send_document|internal_review|escalation|other), " +
		"priority (1=critical..4=low), due_in_days (int) and rationale. " +
		"Each promise has promised_amount (number, 0 if unstated), promised_date (YYYY-MM-DD), " +
		"payment_method (string, may be empty), confidence (high|medium|low) and notes."

	user, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction context: %w", err)
	}

	content, err := c.complete(ctx, "llm.extract_collections", system, string(user))
	if err != nil {
		return nil, err
	}

	var result ExtractionResult
	if err := strictUnmarshal(content, &result); err != nil {
		return nil, err
	}
	if err := validateExtraction(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// complete runs one chat completion and returns the raw message content.
func (c *Client) complete(ctx context.Context, spanName, system, user string) (string, error) {
	tracer := otel.Tracer("expedify/llm")
	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(attribute.String("llm.model", c.config.Model))
	defer span.End()

	request := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	request.ResponseFormat.Type = "json_object"

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("llm: retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		content, retryable, err := c.doOnce(ctx, reqBody)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	return "", lastErr
}

// doOnce performs a single HTTP round trip. The second return value reports
// whether the failure is worth retrying (network errors and 5xx only).
func (c *Client) doOnce(ctx context.Context, reqBody []byte) (string, bool, error) {
	url := fmt.Sprintf("%s/chat/completions", c.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", false, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", false, fmt.Errorf("%w: %s", ErrQuotaExhausted, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("upstream error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", false, fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}
	if cr.Error != nil {
		if cr.Error.Code == "insufficient_quota" || cr.Error.Type == "insufficient_quota" {
			return "", false, fmt.Errorf("%w: %s", ErrQuotaExhausted, cr.Error.Message)
		}
		return "", false, fmt.Errorf("upstream error: %s", cr.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("upstream error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(cr.Choices) == 0 {
		return "", false, fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return cr.Choices[0].Message.Content, false, nil
}

// strictUnmarshal decodes exactly one JSON value with no unknown fields and
// no trailing data. Markdown fences or prose around the JSON fail the call.
func strictUnmarshal(content string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrMalformed)
	}
	return nil
}

func validateExtraction(result *ExtractionResult) error {
	for i, task := range result.Tasks {
		switch task.TaskType {
		case "follow_up_call", "send_email", "send_document", "internal_review", "escalation", "other":
		default:
			return fmt.Errorf("%w: tasks[%d] has unknown task_type %q", ErrMalformed, i, task.TaskType)
		}
		if task.Priority < 1 || task.Priority > 4 {
			return fmt.Errorf("%w: tasks[%d] priority %d out of range", ErrMalformed, i, task.Priority)
		}
		if task.DueInDays < 0 {
			return fmt.Errorf("%w: tasks[%d] negative due_in_days", ErrMalformed, i)
		}
	}
	for i, promise := range result.Promises {
		switch promise.Confidence {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("%w: promises[%d] has unknown confidence %q", ErrMalformed, i, promise.Confidence)
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
