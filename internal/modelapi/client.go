// Copyright 2025 James Ross
// Package modelapi is a thin JSON client for an OpenAI-compatible
// chat-completions and batch API.
package modelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
)

// Client calls an OpenAI-compatible API: chat completions for the
// individual pipeline, files + batches for the jobgroup subsystem.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	log        *zap.Logger
}

// New builds a Client against baseURL (no trailing slash expected) with
// apiKey sent as a bearer token. maxRetries bounds the chat-completion
// retry loop; zero defaults to 3.
func New(baseURL, apiKey string, timeout time.Duration, maxRetries int, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		maxRetries: maxRetries,
		log:        log,
	}
}

// ChatMessage is one entry in a chat-completions request's message array.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ChatCompletionRequest is the subset of the OpenAI chat-completions
// request body this client needs.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatChoice struct {
	Message ChatMessage `json:"message"`
}

type chatCompletionResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatCompletionResult carries the extracted message content plus raw
// usage telemetry for the caller to persist.
type ChatCompletionResult struct {
	Content string
	Usage   map[string]int
}

// ChatCompletion calls /v1/chat/completions, retrying on 429 and 5xx with
// exponential backoff and jitter up to c.maxRetries retries after the first attempt.
func (c *Client) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewSerialization(err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffWithJitter(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.log.Warn("retrying chat completion", zap.Int("attempt", attempt), zap.Error(lastErr))
		}

		result, err := c.doChatCompletion(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doChatCompletion(ctx context.Context, body []byte) (*ChatCompletionResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	c.setHeaders(httpReq, "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalAPI(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.NewSerialization(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, apperrors.NewExternalAPI(resp.StatusCode, "response contained no choices")
	}

	content, _ := parsed.Choices[0].Message.Content.(string)
	return &ChatCompletionResult{
		Content: content,
		Usage: map[string]int{
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		},
	}, nil
}

// UploadFile uploads data as a multipart file with the given purpose (e.g.
// "batch"), returning the provider-assigned file id.
func (c *Client) UploadFile(ctx context.Context, filename, purpose string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", purpose); err != nil {
		return "", apperrors.NewSerialization(err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", apperrors.NewSerialization(err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.NewSerialization(err)
	}
	if err := mw.Close(); err != nil {
		return "", apperrors.NewSerialization(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", apperrors.NewExternalAPI(0, err.Error())
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperrors.NewExternalAPI(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.NewExternalAPI(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperrors.NewSerialization(err)
	}
	return parsed.ID, nil
}

// Batch is the subset of the provider's batch object this client needs.
type Batch struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	InputFileID      string `json:"input_file_id"`
	OutputFileID     string `json:"output_file_id"`
	ErrorFileID      string `json:"error_file_id"`
	CompletionWindow string `json:"completion_window"`
}

// CreateBatch creates a batch job against inputFileID.
func (c *Client) CreateBatch(ctx context.Context, inputFileID, endpoint, completionWindow string, metadata map[string]string) (*Batch, error) {
	payload := map[string]interface{}{
		"input_file_id":     inputFileID,
		"endpoint":          endpoint,
		"completion_window": completionWindow,
		"metadata":          metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewSerialization(err)
	}
	return c.doBatchCall(ctx, http.MethodPost, "/v1/batches", body)
}

// GetBatch retrieves the current status of batchID.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	return c.doBatchCall(ctx, http.MethodGet, "/v1/batches/"+batchID, nil)
}

// CancelBatch requests cancellation of batchID.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*Batch, error) {
	return c.doBatchCall(ctx, http.MethodPost, "/v1/batches/"+batchID+"/cancel", nil)
}

func (c *Client) doBatchCall(ctx context.Context, method, path string, body []byte) (*Batch, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	c.setHeaders(httpReq, "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalAPI(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var b Batch
	if err := json.Unmarshal(respBody, &b); err != nil {
		return nil, apperrors.NewSerialization(err)
	}
	return &b, nil
}

// DownloadFile fetches the raw content of a provider file (e.g. a batch's
// output_file_id).
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	c.setHeaders(httpReq, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewExternalAPI(0, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewExternalAPI(resp.StatusCode, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalAPI(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func backoffWithJitter(attempt int) time.Duration {
	base := 500 * time.Millisecond
	max := 8 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		d = max
	}
	jitter := 0.3
	delta := float64(d) * jitter
	d = d - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	if d < 0 {
		d = 0
	}
	return d
}
