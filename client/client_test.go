package client

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/agentinterop-go/agent"
	"github.com/machinefabric/agentinterop-go/bifaci"
	"github.com/machinefabric/agentinterop-go/protocol"
)

// newLocal connects a client to an in-process runtime over pipes.
func newLocal(t *testing.T, cfg agent.Config, opts ...Option) *Client {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	rt := agent.New(protocol.NewConn(bifaci.NewTransport(toAgentR, toClientW)), cfg)
	go func() {
		_ = rt.Serve(context.Background())
		_ = toClientW.Close()
	}()

	c := New(protocol.NewConn(bifaci.NewTransport(toClientR, toAgentW)), opts...)
	t.Cleanup(func() {
		_ = toAgentW.Close()
		_ = c.Close(context.Background())
	})
	return c
}

// scripted is the agent end of a pipe pair driven by the test.
type scripted struct {
	conn *protocol.Conn
	w    *io.PipeWriter
}

func newScripted(t *testing.T, opts ...Option) (*Client, *scripted) {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	agentSide := &scripted{conn: protocol.NewConn(bifaci.NewTransport(toAgentR, toClientW)), w: toClientW}
	c := New(protocol.NewConn(bifaci.NewTransport(toClientR, toAgentW)), opts...)
	t.Cleanup(func() {
		_ = toAgentW.Close()
		_ = toClientW.Close()
		_ = c.Close(context.Background())
		_ = agentSide.conn.Close()
	})
	return c, agentSide
}

// reply waits for one request and answers with events.
func (s *scripted) reply(t *testing.T, events ...protocol.Event) <-chan protocol.Request {
	got := make(chan protocol.Request, 1)
	go func() {
		req, err := s.conn.ReadRequest(context.Background())
		if err != nil {
			close(got)
			return
		}
		got <- req
		for _, ev := range events {
			if err := s.conn.Send(ev); err != nil {
				return
			}
		}
	}()
	return got
}

func TestClient_SessionRoundTrip(t *testing.T) {
	c := newLocal(t, agent.Config{Chunks: 3, Streaming: true})
	ctx := context.Background()

	id, err := c.StartSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)

	var streamed []string
	turn, err := c.Send(ctx, id, "hello there", func(d string) { streamed = append(streamed, d) })
	require.NoError(t, err)

	assert.Equal(t, "MockAgent response #1: hello there", turn.Text)
	assert.Equal(t, turn.Message.Content, turn.Text)
	assert.Len(t, streamed, 3)
	assert.Equal(t, 3, turn.Deltas)
	assert.Len(t, turn.History, 2)

	turn, err = c.Send(ctx, id, "again", nil)
	require.NoError(t, err)
	assert.Equal(t, "MockAgent response #2: again", turn.Text)
	assert.Len(t, turn.History, 4)
}

func TestClient_SendWithoutSessionID(t *testing.T) {
	c := newLocal(t, agent.Config{Chunks: 2, Streaming: true, EmitToolCalls: true}, WithReplyTimeout(2*time.Second))
	ctx := context.Background()

	turn, err := c.Send(ctx, "", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "session-1", turn.SessionID)
	assert.Equal(t, "MockAgent response #1: hello", turn.Text)
	assert.Equal(t, 2, turn.Deltas)
	assert.Len(t, turn.ToolCalls, 1)

	turn, err = c.Send(ctx, turn.SessionID, "again", nil)
	require.NoError(t, err)
	assert.Equal(t, "session-1", turn.SessionID)
	assert.Equal(t, "MockAgent response #2: again", turn.Text)
}

func TestClient_ReplayWithoutSessionID(t *testing.T) {
	c := newLocal(t, agent.DefaultConfig(), WithReplyTimeout(2*time.Second))
	ctx := context.Background()

	history := []protocol.ChatMessage{
		{Role: protocol.RoleUser, Content: "one"},
		{Role: protocol.RoleUser, Content: "two"},
	}
	require.NoError(t, c.Replay(ctx, "", history))

	turn, err := c.Send(ctx, "session-1", "three", nil)
	require.NoError(t, err)
	assert.Equal(t, "MockAgent response #3: three", turn.Text)
}

func TestClient_SendStreamingOff(t *testing.T) {
	c := newLocal(t, agent.Config{Chunks: 3, Streaming: false, EmitToolCalls: true})

	var streamed int
	turn, err := c.Send(context.Background(), "s", "quiet", func(string) { streamed++ })
	require.NoError(t, err)
	assert.Equal(t, 0, streamed)
	assert.Equal(t, 0, turn.Deltas)
	assert.Empty(t, turn.ToolCalls)
	assert.Equal(t, "MockAgent response #1: quiet", turn.Text)
}

func TestClient_SendCollectsToolCalls(t *testing.T) {
	c := newLocal(t, agent.Config{Chunks: 2, Streaming: true, EmitToolCalls: true})

	turn, err := c.Send(context.Background(), "s", "abc", nil)
	require.NoError(t, err)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, agent.ToolName, turn.ToolCalls[0].Name)
	assert.EqualValues(t, 3, turn.ToolCalls[0].Args["inputLength"])
}

// Replay brings a fresh agent to the same turn count
func TestClient_Replay(t *testing.T) {
	c := newLocal(t, agent.DefaultConfig())
	ctx := context.Background()

	history := []protocol.ChatMessage{
		{Role: protocol.RoleUser, Content: "one"},
		{Role: protocol.RoleAssistant, Content: "MockAgent response #1: one"},
		{Role: protocol.RoleUser, Content: "two"},
		{Role: protocol.RoleAssistant, Content: "MockAgent response #2: two"},
	}
	require.NoError(t, c.Replay(ctx, "s", history))

	turn, err := c.Send(ctx, "s", "three", nil)
	require.NoError(t, err)
	assert.Equal(t, "MockAgent response #3: three", turn.Text)
	assert.Equal(t, history, turn.History[:4])
}

func TestClient_TaskLifecycle(t *testing.T) {
	c := newLocal(t, agent.Config{Chunks: 4, Streaming: true})
	ctx := context.Background()

	task, err := c.CreateTask(ctx, protocol.TasksCreate{Prompt: "summarize the repo"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, protocol.StatusCreated, task.Status)

	var seen []protocol.MessageType
	run, err := c.Subscribe(ctx, task.ID, func(ev protocol.Event) { seen = append(seen, ev.MessageType()) })
	require.NoError(t, err)
	assert.True(t, run.Started)
	assert.False(t, run.Cancelled)
	assert.Equal(t, "MockTask response #1: summarize the repo", run.Text)
	assert.Equal(t, "msg-task-1-1", run.MessageID)
	assert.Equal(t, protocol.StatusCompleted, run.Task.Status)
	assert.Equal(t, protocol.TypeTaskStarted, seen[0])
	assert.Equal(t, protocol.TypeTaskCompleted, seen[len(seen)-1])

	got, err := c.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, got.Status)

	require.NoError(t, c.CancelTask(ctx, task.ID))
	require.NoError(t, c.CancelTask(ctx, task.ID))

	run, err = c.Subscribe(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.False(t, run.Started)
	assert.Empty(t, run.Text)
}

func TestClient_UnknownTask(t *testing.T) {
	c := newLocal(t, agent.DefaultConfig())
	ctx := context.Background()

	_, err := c.GetTask(ctx, "ghost")
	var terr *TaskError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "ghost", terr.TaskID)
	assert.Equal(t, "Unknown task: ghost", terr.Message)

	assert.True(t, errors.As(c.CancelTask(ctx, "ghost"), &terr))

	_, err = c.Subscribe(ctx, "ghost", nil)
	assert.True(t, errors.As(err, &terr))

	// The connection is still usable
	_, err = c.CreateTask(ctx, protocol.TasksCreate{TaskID: "real"})
	assert.NoError(t, err)
}

func TestClient_ListAllTasks(t *testing.T) {
	c := newLocal(t, agent.DefaultConfig())
	ctx := context.Background()

	var want []string
	for i := 0; i < 7; i++ {
		task, err := c.CreateTask(ctx, protocol.TasksCreate{})
		require.NoError(t, err)
		want = append(want, task.ID)
	}

	for _, size := range []int{0, 1, 2, 3, 7, 8} {
		tasks, err := c.ListAllTasks(ctx, protocol.TasksList{}, size)
		require.NoError(t, err)
		var got []string
		for _, task := range tasks {
			got = append(got, task.ID)
		}
		assert.Equal(t, want, got, "page size %d", size)
	}

	tasks, err := c.ListAllTasks(ctx, protocol.TasksList{ProviderID: "elsewhere"}, 2)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// Deltas are joined by index, not by arrival order
func TestClient_SendReordersDeltas(t *testing.T) {
	c, agentSide := newScripted(t)

	agentSide.reply(t,
		protocol.SessionStream{SessionID: "s", Index: 2, Delta: "C"},
		protocol.SessionStream{SessionID: "other", Index: 0, Delta: "x"},
		protocol.SessionStream{SessionID: "s", Index: 0, Delta: "A"},
		protocol.TasksCancelResult{OK: true},
		protocol.SessionStream{SessionID: "s", Index: 1, Delta: "B"},
		protocol.SessionComplete{SessionID: "s", Message: protocol.ChatMessage{Role: protocol.RoleAssistant, Content: "ABC"}, History: []protocol.ChatMessage{}},
	)

	var arrival string
	turn, err := c.Send(context.Background(), "s", "go", func(d string) { arrival += d })
	require.NoError(t, err)
	assert.Equal(t, "ABC", turn.Text)
	assert.Equal(t, "CAB", arrival)
}

func TestClient_Timeout(t *testing.T) {
	c, agentSide := newScripted(t, WithReplyTimeout(50*time.Millisecond))
	got := agentSide.reply(t)

	start := time.Now()
	_, err := c.StartSession(context.Background(), "s")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	req := <-got
	assert.Equal(t, protocol.SessionStart{SessionID: "s"}, req)
}

// A parent context deadline is reported as such, not as ErrTimeout
func TestClient_ParentContextWins(t *testing.T) {
	c, _ := newScripted(t, WithReplyTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.WaitFor(ctx, protocol.TypeReady)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClient_StreamEnded(t *testing.T) {
	c, agentSide := newScripted(t)
	go func() {
		_, _ = agentSide.conn.ReadRequest(context.Background())
		_ = agentSide.w.Close()
	}()

	_, err := c.CreateTask(context.Background(), protocol.TasksCreate{})
	assert.ErrorIs(t, err, ErrStreamEnded)
}

// Undecodable messages are skipped while waiting
func TestClient_SkipsUndecodable(t *testing.T) {
	c, agentSide := newScripted(t)
	go func() {
		_, _ = agentSide.conn.ReadRequest(context.Background())
		_ = agentSide.conn.Transport().Send([]byte(`{"type":"mystery"}`))
		_ = agentSide.conn.Transport().Send([]byte(`{"type":"session/started"}`))
		_ = agentSide.conn.Send(protocol.SessionStarted{SessionID: "s"})
	}()

	id, err := c.StartSession(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "s", id)
}
