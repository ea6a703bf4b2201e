// ABOUTME: HTTP client for the remote conversation API (assistants-style endpoints).
// ABOUTME: Streams run events over SSE and maps them to agency turn events.

package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/agency-gateway/internal/agency"
)

// AuthError is returned when the remote API rejects the caller's
// credentials. Its message is forwarded verbatim to the client.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// apiError is the remote API's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// APIClient implements agency.Client against an assistants-style HTTP API.
// Each instance is bound to one user's API key and is never shared across
// processes or serialized with a graph.
type APIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewAPIClient creates a client for the given base URL and per-user key.
// Pass nil logger for default.
func NewAPIClient(baseURL, apiKey string, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 0}, // streamed runs have no fixed deadline
		logger:  logger.With("component", "runtime-client"),
	}
}

// do issues a JSON request and decodes the JSON response into out.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// send issues a request and returns the raw response, translating error
// statuses into typed errors.
func (c *APIClient) send(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return resp, nil
}

// statusError turns a non-2xx response into an error, preserving the
// upstream message for auth failures.
func (c *APIClient) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env apiError
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		message = env.Error.Message
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if message == "" {
			message = "remote API rejected the provided credentials"
		}
		return &AuthError{Message: message}
	}
	return fmt.Errorf("remote API error (status %d): %s", resp.StatusCode, message)
}

// CreateAssistant creates a remote assistant and returns its id.
func (c *APIClient) CreateAssistant(ctx context.Context, name, instructions string, tools []string) (string, error) {
	type toolDef struct {
		Type string `json:"type"`
	}
	body := struct {
		Name         string    `json:"name"`
		Instructions string    `json:"instructions"`
		Tools        []toolDef `json:"tools,omitempty"`
	}{Name: name, Instructions: instructions}
	for _, t := range tools {
		body.Tools = append(body.Tools, toolDef{Type: t})
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/assistants", body, &out); err != nil {
		return "", fmt.Errorf("creating assistant %q: %w", name, err)
	}
	if out.ID == "" {
		return "", errors.New("remote API returned empty assistant id")
	}
	c.logger.Debug("assistant created", "name", name, "assistant_id", out.ID)
	return out.ID, nil
}

// CreateThread creates a remote conversation thread and returns its id.
func (c *APIClient) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("remote API returned empty thread id")
	}
	return out.ID, nil
}

// StreamRun posts the user message to the thread, starts a streamed run for
// the assistant, and forwards each streamed event to sink in arrival order.
// It blocks until the stream ends.
func (c *APIClient) StreamRun(ctx context.Context, threadID, assistantID, message string, sink agency.EventSink) error {
	msgBody := struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: message}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", msgBody, nil); err != nil {
		return fmt.Errorf("posting user message: %w", err)
	}

	runBody := struct {
		AssistantID string `json:"assistant_id"`
		Stream      bool   `json:"stream"`
	}{AssistantID: assistantID, Stream: true}

	resp, err := c.send(ctx, http.MethodPost, "/threads/"+threadID+"/runs", runBody, "text/event-stream")
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	defer resp.Body.Close()

	if err := c.consumeRunStream(resp.Body, sink); err != nil {
		return fmt.Errorf("reading run stream: %w", err)
	}
	return nil
}

// streamPayload is the union of SSE data payloads we care about.
type streamPayload struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
		StepDetails struct {
			ToolCalls []struct {
				Type          string `json:"type"`
				Function      struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
					Output    string `json:"output"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"delta"`
	LastError *struct {
		Message string `json:"message"`
	} `json:"last_error"`
}

// consumeRunStream parses the SSE body line by line, translating each data
// event into exactly one sink call. Event ordering follows the wire.
func (c *APIClient) consumeRunStream(body io.Reader, sink agency.EventSink) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}
			if err := c.dispatchStreamEvent(eventName, data, sink); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// dispatchStreamEvent maps one SSE event to a turn event, or to an error
// for failed runs.
func (c *APIClient) dispatchStreamEvent(eventName, data string, sink agency.EventSink) error {
	var payload streamPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		c.logger.Warn("unparseable stream event dropped", "event", eventName)
		return nil
	}

	switch eventName {
	case "thread.message.created":
		sink(agency.Event{Kind: agency.EventTextCreated})
	case "thread.message.delta":
		for _, part := range payload.Delta.Content {
			if part.Type == "text" {
				sink(agency.Event{Kind: agency.EventTextDelta, Text: part.Text.Value})
			}
		}
	case "thread.run.step.delta":
		for _, call := range payload.Delta.StepDetails.ToolCalls {
			switch {
			case call.Function.Output != "":
				sink(agency.Event{Kind: agency.EventToolOutput, Text: call.Function.Output, ToolName: call.Function.Name})
			case call.Function.Arguments != "":
				sink(agency.Event{Kind: agency.EventToolCallDelta, Text: call.Function.Arguments, ToolName: call.Function.Name})
			default:
				sink(agency.Event{Kind: agency.EventToolCallCreated, ToolName: call.Function.Name})
			}
		}
	case "thread.run.failed":
		if payload.LastError != nil && payload.LastError.Message != "" {
			return fmt.Errorf("run failed: %s", payload.LastError.Message)
		}
		return errors.New("run failed")
	}
	return nil
}

// ListMessages returns up to limit messages of the thread, oldest first.
func (c *APIClient) ListMessages(ctx context.Context, threadID string, limit int) ([]agency.Message, error) {
	var out struct {
		Data []struct {
			ID      string `json:"id"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
			CreatedAt int64 `json:"created_at"`
		} `json:"data"`
	}

	path := fmt.Sprintf("/threads/%s/messages?limit=%d&order=asc", threadID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing messages for thread %s: %w", threadID, err)
	}

	messages := make([]agency.Message, 0, len(out.Data))
	for _, m := range out.Data {
		content := "[No content]"
		if len(m.Content) > 0 && m.Content[0].Text.Value != "" {
			content = m.Content[0].Text.Value
		}
		messages = append(messages, agency.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   content,
			SessionID: threadID,
			Timestamp: time.Unix(m.CreatedAt, 0).UTC(),
		})
	}
	return messages, nil
}
