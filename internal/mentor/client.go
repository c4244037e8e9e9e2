package mentor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lokeshkhabiya/round0/internal/models"
)

// HTTPTransport talks to the mentor routes of the backend with a candidate token.
type HTTPTransport struct {
	BaseURL string
	Token   string
	// Client must not carry a Timeout: streams only end by completion or cancellation.
	Client *http.Client
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError is a response whose envelope reported success=false.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mentor api: %s (%s)", e.Message, e.Code)
	}
	return "mentor api: " + e.Message
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)
	return req, nil
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	// callers branch on success, never on the status code
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (t *HTTPTransport) CreateSession(ctx context.Context, title string) (string, error) {
	req, err := t.newRequest(ctx, http.MethodPost, "/mentor/sessions", map[string]string{"title": title})
	if err != nil {
		return "", err
	}
	var sess models.MentorSession
	if err := t.do(req, &sess); err != nil {
		return "", err
	}
	if sess.ID == "" {
		return "", errors.New("mentor api: session id missing from response")
	}
	return sess.ID, nil
}

func (t *HTTPTransport) Send(ctx context.Context, sessionID, query string) (io.ReadCloser, error) {
	req, err := t.newRequest(ctx, http.MethodPost, "/mentor/sessions/"+url.PathEscape(sessionID)+"/messages", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		defer resp.Body.Close()
		if err := decodeEnvelope(resp, nil); err != nil {
			return nil, err
		}
		return nil, &APIError{Status: resp.StatusCode, Message: "expected an event stream"}
	}
	return resp.Body, nil
}

func (t *HTTPTransport) ListSessions(ctx context.Context) ([]models.MentorSession, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/mentor/sessions", nil)
	if err != nil {
		return nil, err
	}
	var out []models.MentorSession
	if err := t.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *HTTPTransport) ListMessages(ctx context.Context, sessionID string) ([]models.MentorMessage, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/mentor/sessions/"+url.PathEscape(sessionID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	var out []models.MentorMessage
	if err := t.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
