package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"support-chat-be/pkg/dto"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("support session is closed")

// API is the request/response surface of the support service.
type API interface {
	CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*dto.SessionResponse, error)
	AttachIntake(ctx context.Context, sessionID uuid.UUID, req dto.IntakeRequest) (*dto.SessionResponse, error)
	SendMessage(ctx context.Context, sessionID uuid.UUID, text string) (*dto.MessageResponse, error)
	RecentMessages(ctx context.Context, sessionID uuid.UUID) ([]dto.MessageResponse, error)
	Status(ctx context.Context, sessionID uuid.UUID) (*dto.StatusResponse, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID) error
}

// APIError is a non-2xx answer of the service.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("support api error: status %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Code == http.StatusGone {
		return ErrSessionClosed
	}
	return nil
}

type HTTPAPI struct {
	BaseURL string
	Client  *http.Client
}

var _ API = &HTTPAPI{}

func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (a *HTTPAPI) sessionsURL(parts ...string) string {
	url := a.BaseURL + "/api/support/v1/sessions"
	for _, p := range parts {
		url += "/" + p
	}
	return url
}

func (a *HTTPAPI) CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	var out dto.SessionResponse
	if err := do(ctx, a.Client, http.MethodPost, a.sessionsURL(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) AttachIntake(ctx context.Context, sessionID uuid.UUID, req dto.IntakeRequest) (*dto.SessionResponse, error) {
	var out dto.SessionResponse
	if err := do(ctx, a.Client, http.MethodPut, a.sessionsURL(sessionID.String(), "intake"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) SendMessage(ctx context.Context, sessionID uuid.UUID, text string) (*dto.MessageResponse, error) {
	var out dto.MessageResponse
	body := dto.SendMessageRequest{Text: text}
	if err := do(ctx, a.Client, http.MethodPost, a.sessionsURL(sessionID.String(), "messages"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) RecentMessages(ctx context.Context, sessionID uuid.UUID) ([]dto.MessageResponse, error) {
	var out []dto.MessageResponse
	if err := do(ctx, a.Client, http.MethodGet, a.sessionsURL(sessionID.String(), "messages"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAPI) Status(ctx context.Context, sessionID uuid.UUID) (*dto.StatusResponse, error) {
	var out dto.StatusResponse
	if err := do(ctx, a.Client, http.MethodGet, a.sessionsURL(sessionID.String(), "status"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	var out dto.CloseSessionResponse
	return do(ctx, a.Client, http.MethodPost, a.sessionsURL(sessionID.String(), "close"), nil, &out)
}

func do[T any](ctx context.Context, client *http.Client, method, url string, body interface{}, out *T) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("support request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope[T]
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Code: resp.StatusCode, Message: string(bodyBytes)}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &APIError{Code: resp.StatusCode, Message: env.Message}
	}

	*out = env.Data
	return nil
}
