// ABOUTME: Tests for wire frame construction and event rendering.
// ABOUTME: Pins the exact status text each event kind produces.

package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/agency"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   agency.Event
		want string
	}{
		{
			name: "text created announces the speaker",
			ev:   agency.Event{Kind: agency.EventTextCreated, Recipient: "root"},
			want: "\nroot: ",
		},
		{
			name: "text delta passes through verbatim",
			ev:   agency.Event{Kind: agency.EventTextDelta, Text: "hel"},
			want: "hel",
		},
		{
			name: "tool call created",
			ev:   agency.Event{Kind: agency.EventToolCallCreated, Recipient: "root", ToolName: "SendMessage"},
			want: "\nroot is calling SendMessage...",
		},
		{
			name: "tool call delta passes through verbatim",
			ev:   agency.Event{Kind: agency.EventToolCallDelta, Text: `{"arg":`},
			want: `{"arg":`,
		},
		{
			name: "tool output",
			ev:   agency.Event{Kind: agency.EventToolOutput, Text: "done"},
			want: "\ntool output: done",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev))
		})
	}
}

func TestNewResponseFrame(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := newResponseFrame("conn1", []agency.Message{
		{ID: "msg_1", Role: "user", Content: "hi", SessionID: "sess1", Timestamp: ts},
		{ID: "msg_2", Role: "assistant", Content: "hello", SessionID: "sess1", Timestamp: ts.Add(time.Second)},
	})

	assert.Equal(t, FrameAgentResponse, frame.Type)
	assert.Equal(t, "conn1", frame.ConnectionID)
	assert.True(t, frame.Data.Status)
	assert.Equal(t, "Message processed successfully", frame.Data.Message)
	require.Len(t, frame.Data.Data, 2)
	assert.Equal(t, "msg_1", frame.Data.Data[0].ID)
	assert.Equal(t, ts.Unix(), frame.Data.Data[0].Timestamp)
	assert.Equal(t, "assistant", frame.Data.Data[1].Role)
}

func TestNewResponseFrameEmptyHistory(t *testing.T) {
	frame := newResponseFrame("conn1", nil)
	assert.True(t, frame.Data.Status)
	assert.NotNil(t, frame.Data.Data)
	assert.Empty(t, frame.Data.Data)
}

func TestNewErrorFrame(t *testing.T) {
	frame := newErrorFrame("Session not found")
	assert.False(t, frame.Status)
	assert.Equal(t, "Session not found", frame.Message)
}

func TestFrameType(t *testing.T) {
	assert.Equal(t, FrameAgentStatus, frameType(StatusFrame{}))
	assert.Equal(t, FrameAgentResponse, frameType(ResponseFrame{}))
	assert.Equal(t, "error", frameType(ErrorFrame{}))
	assert.Equal(t, "unknown", frameType(42))
}
