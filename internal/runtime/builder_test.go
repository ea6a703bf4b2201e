// ABOUTME: Tests for graph materialization: gap filling and partial failures.
// ABOUTME: Uses a scripted client that fails on demand.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/agency"
)

// scriptedClient hands out sequential ids and fails after a set number of
// successful calls per kind. Zero means never fail.
type scriptedClient struct {
	assistants atomic.Int64
	threads    atomic.Int64

	failAssistantsAfter int64
	failThreadsAfter    int64
}

func (c *scriptedClient) CreateAssistant(ctx context.Context, name, instructions string, tools []string) (string, error) {
	n := c.assistants.Add(1)
	if c.failAssistantsAfter > 0 && n > c.failAssistantsAfter {
		c.assistants.Add(-1)
		return "", errors.New("assistant quota exceeded")
	}
	return fmt.Sprintf("asst_%d", n), nil
}

func (c *scriptedClient) CreateThread(ctx context.Context) (string, error) {
	n := c.threads.Add(1)
	if c.failThreadsAfter > 0 && n > c.failThreadsAfter {
		c.threads.Add(-1)
		return "", errors.New("thread quota exceeded")
	}
	return fmt.Sprintf("thread_%d", n), nil
}

func (c *scriptedClient) StreamRun(ctx context.Context, threadID, assistantID, message string, sink agency.EventSink) error {
	return nil
}

func (c *scriptedClient) ListMessages(ctx context.Context, threadID string, limit int) ([]agency.Message, error) {
	return nil, nil
}

func buildSpec() *agency.Spec {
	return &agency.Spec{
		ID:        "agency1",
		Name:      "Test Agency",
		MainAgent: "root",
		Agents: []agency.AgentDef{
			{Role: "root", Instructions: "Coordinate."},
			{Role: "helper", Instructions: "Assist."},
		},
		Edges: []agency.Edge{{Sender: "root", Receiver: "helper"}},
	}
}

func TestBuildCreatesAllIdentities(t *testing.T) {
	client := &scriptedClient{}
	g, err := NewBuilder(client, nil).Build(context.Background(), buildSpec())
	require.NoError(t, err)

	assert.NotEmpty(t, g.Agents["root"].RemoteID)
	assert.NotEmpty(t, g.Agents["helper"].RemoteID)
	assert.NotEmpty(t, g.Threads[agency.Edge{Sender: "root", Receiver: "helper"}].RemoteID)
	assert.NotEmpty(t, g.Main.RemoteID)

	assert.Equal(t, int64(2), client.assistants.Load())
	assert.Equal(t, int64(2), client.threads.Load())
}

func TestBuildKeepsExistingIDs(t *testing.T) {
	spec := buildSpec()
	spec.Agents[0].RemoteID = "asst_existing"

	client := &scriptedClient{}
	g, err := NewBuilder(client, nil).Build(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "asst_existing", g.Agents["root"].RemoteID)
	assert.Equal(t, int64(1), client.assistants.Load(), "only the missing assistant is created")
}

func TestBuildPartialFailureKeepsAssignedIDs(t *testing.T) {
	// Roles are created alphabetically, so helper succeeds and root fails.
	client := &scriptedClient{failAssistantsAfter: 1}
	g, err := NewBuilder(client, nil).Build(context.Background(), buildSpec())
	require.Error(t, err)
	require.NotNil(t, g, "the partial graph comes back so its ids can be persisted")

	assert.Equal(t, "asst_1", g.Agents["helper"].RemoteID)
	assert.Empty(t, g.Agents["root"].RemoteID)
	assert.Equal(t, int64(0), client.threads.Load(), "no thread is created before all assistants exist")
}

func TestBuildRetryFillsOnlyGaps(t *testing.T) {
	client := &scriptedClient{failThreadsAfter: 1}
	g, err := NewBuilder(client, nil).Build(context.Background(), buildSpec())
	require.Error(t, err)
	assert.Empty(t, g.Main.RemoteID)

	// Retry with the same graph after the quota clears.
	client.failThreadsAfter = 0
	require.NoError(t, NewBuilder(client, nil).Resume(context.Background(), g))

	assert.NotEmpty(t, g.Main.RemoteID)
	assert.Equal(t, int64(2), client.assistants.Load(), "assistants from the first attempt are reused")
	assert.Equal(t, int64(2), client.threads.Load())
}

func TestResumeReattachesClient(t *testing.T) {
	first := &scriptedClient{}
	g, err := NewBuilder(first, nil).Build(context.Background(), buildSpec())
	require.NoError(t, err)

	second := &scriptedClient{}
	require.NoError(t, NewBuilder(second, nil).Resume(context.Background(), g))

	assert.Same(t, second, g.Client().(*scriptedClient))
	assert.Equal(t, int64(0), second.assistants.Load(), "a complete graph needs no remote calls")
}

func TestBuildRejectsInvalidSpec(t *testing.T) {
	spec := buildSpec()
	spec.Agents = nil
	_, err := NewBuilder(&scriptedClient{}, nil).Build(context.Background(), spec)
	assert.Error(t, err)
}
