// ABOUTME: Wire frame types for the WebSocket conversation protocol.
// ABOUTME: One inbound frame kind, three outbound frame kinds.

package relay

import (
	"fmt"

	"github.com/2389/agency-gateway/internal/agency"
)

// Frame type discriminators.
const (
	FrameUserMessage   = "user_message"
	FrameAgentStatus   = "agent_status"
	FrameAgentResponse = "agent_response"
	frameError         = "error"
)

// InboundFrame is one client message. The access token rides on every
// frame; a token expired mid-conversation fails on the next turn.
type InboundFrame struct {
	Type        string      `json:"type"`
	Data        InboundData `json:"data"`
	AccessToken string      `json:"access_token"`
}

// InboundData carries the user message payload.
type InboundData struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// StatusFrame is one incremental turn event forwarded to the client.
type StatusFrame struct {
	Type string     `json:"type"`
	Data StatusData `json:"data"`
}

// StatusData holds the incremental text or tool-call trace.
type StatusData struct {
	Message string `json:"message"`
}

// ResponseFrame is the consolidated end-of-turn frame carrying the
// conversation history.
type ResponseFrame struct {
	Type         string       `json:"type"`
	Data         ResponseData `json:"data"`
	ConnectionID string       `json:"connection_id"`
}

// ResponseData is the agent_response payload.
type ResponseData struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    []MessagePayload `json:"data"`
}

// MessagePayload is one history entry in an agent_response frame.
type MessagePayload struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame reports a turn-level failure without closing the connection.
type ErrorFrame struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// newStatusFrame renders one turn event as an agent_status frame.
func newStatusFrame(ev agency.Event) StatusFrame {
	return StatusFrame{Type: FrameAgentStatus, Data: StatusData{Message: formatEvent(ev)}}
}

// newResponseFrame builds the consolidated end-of-turn frame.
func newResponseFrame(connID string, messages []agency.Message) ResponseFrame {
	payload := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, MessagePayload{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			SessionID: m.SessionID,
			Timestamp: m.Timestamp.Unix(),
		})
	}
	return ResponseFrame{
		Type: FrameAgentResponse,
		Data: ResponseData{
			Status:  true,
			Message: "Message processed successfully",
			Data:    payload,
		},
		ConnectionID: connID,
	}
}

// newErrorFrame builds a structured error frame with a user-facing message.
func newErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Status: false, Message: message}
}

// formatEvent renders one turn event as incremental status text. Text
// deltas pass through verbatim so the client can concatenate them.
func formatEvent(ev agency.Event) string {
	switch ev.Kind {
	case agency.EventTextCreated:
		return fmt.Sprintf("\n%s: ", ev.Recipient)
	case agency.EventTextDelta:
		return ev.Text
	case agency.EventToolCallCreated:
		return fmt.Sprintf("\n%s is calling %s...", ev.Recipient, ev.ToolName)
	case agency.EventToolCallDelta:
		return ev.Text
	case agency.EventToolOutput:
		return fmt.Sprintf("\ntool output: %s", ev.Text)
	default:
		return ev.Text
	}
}

// frameType reports the discriminator of an outbound frame for metrics.
func frameType(frame any) string {
	switch frame.(type) {
	case StatusFrame:
		return FrameAgentStatus
	case ResponseFrame:
		return FrameAgentResponse
	case ErrorFrame:
		return frameError
	default:
		return "unknown"
	}
}
