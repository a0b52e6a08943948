package agent

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/agentinterop-go/bifaci"
	"github.com/machinefabric/agentinterop-go/protocol"
)

type harness struct {
	t      *testing.T
	input  *io.PipeWriter
	events *protocol.Conn
	done   chan error
}

// startRuntime serves a runtime over in-memory pipes. Requests are written
// straight to the pipe so a batch lands in the runtime's queue at once.
func startRuntime(t *testing.T, cfg Config) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	rt := New(protocol.NewConn(bifaci.NewTransport(inR, outW)), cfg, WithPID(4242), WithClock(fixedClock()))
	h := &harness{
		t:      t,
		input:  inW,
		events: protocol.NewConn(bifaci.NewTransport(outR, io.Discard)),
		done:   make(chan error, 1),
	}
	go func() {
		h.done <- rt.Serve(context.Background())
		_ = outW.Close()
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		_ = h.events.Close()
	})

	ready := h.next()
	assert.Equal(t, protocol.Ready{PID: 4242, Version: 1}, ready)
	return h
}

func (h *harness) send(reqs ...protocol.Request) {
	h.t.Helper()
	var batch []byte
	for _, req := range reqs {
		payload, err := protocol.Marshal(req)
		require.NoError(h.t, err)
		frame, err := bifaci.EncodeFrame(payload)
		require.NoError(h.t, err)
		batch = append(batch, frame...)
	}
	_, err := h.input.Write(batch)
	require.NoError(h.t, err)
}

func (h *harness) sendRaw(payload string) {
	h.t.Helper()
	frame, err := bifaci.EncodeFrame([]byte(payload))
	require.NoError(h.t, err)
	_, err = h.input.Write(frame)
	require.NoError(h.t, err)
}

func (h *harness) next() protocol.Event {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := h.events.ReadEvent(ctx)
	require.NoError(h.t, err)
	return ev
}

func (h *harness) types(n int) []protocol.MessageType {
	h.t.Helper()
	out := make([]protocol.MessageType, n)
	for i := range out {
		out[i] = h.next().MessageType()
	}
	return out
}

func TestRuntime_ListScenario(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	h.send(
		protocol.TasksCreate{TaskID: "t1"},
		protocol.TasksCreate{TaskID: "t2"},
		protocol.TasksList{Limit: "1"},
		protocol.TasksList{Cursor: "1", Limit: "10"},
	)

	assert.Equal(t, "t1", h.next().(protocol.TasksCreated).Task.ID)
	assert.Equal(t, "t2", h.next().(protocol.TasksCreated).Task.ID)

	first := h.next().(protocol.TasksListResult)
	require.Len(t, first.Tasks, 1)
	assert.Equal(t, "t1", first.Tasks[0].ID)
	assert.Equal(t, "1", first.NextCursor)

	second := h.next().(protocol.TasksListResult)
	require.Len(t, second.Tasks, 1)
	assert.Equal(t, "t2", second.Tasks[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestRuntime_SessionScenario(t *testing.T) {
	h := startRuntime(t, Config{Chunks: 1, Streaming: true})

	h.send(protocol.SessionSend{SessionID: "s1", Content: "hello"})

	assert.Equal(t, protocol.SessionStream{SessionID: "s1", Index: 0, Delta: "MockAgent response #1: hello"}, h.next())
	complete := h.next().(protocol.SessionComplete)
	assert.Equal(t, "MockAgent response #1: hello", complete.Message.Content)
	assert.Len(t, complete.History, 2)
}

func TestRuntime_CancelledBeforeSubscribe(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	h.send(
		protocol.TasksCreate{TaskID: "t-x"},
		protocol.TasksCancel{TaskID: "t-x"},
		protocol.TasksSubscribe{TaskID: "t-x"},
		protocol.TasksGet{TaskID: "t-x"},
	)

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeTasksCreated,
		protocol.TypeTasksCancelResult,
		protocol.TypeTaskCancelled,
		protocol.TypeTasksGetResult,
	}, h.types(4))
}

// A cancel queued behind a subscribe is handled at the first yield and
// stops the stream after one delta
func TestRuntime_CooperativeCancel(t *testing.T) {
	h := startRuntime(t, Config{Chunks: 5, Streaming: true})

	h.send(
		protocol.TasksCreate{TaskID: "t1", Prompt: "write a long answer"},
		protocol.TasksSubscribe{TaskID: "t1"},
		protocol.TasksCancel{TaskID: "t1"},
	)

	assert.Equal(t, protocol.TypeTasksCreated, h.next().MessageType())
	assert.Equal(t, protocol.TypeTaskStarted, h.next().MessageType())
	delta := h.next().(protocol.MessageDelta)
	assert.Equal(t, 0, delta.Index)
	assert.Equal(t, protocol.TasksCancelResult{OK: true}, h.next())
	cancelled := h.next().(protocol.TaskCancelled)
	assert.Equal(t, protocol.StatusCancelled, cancelled.Task.Status)

	// Nothing else was emitted for the stream
	h.send(protocol.TasksGet{TaskID: "t1"})
	got := h.next().(protocol.TasksGetResult)
	assert.Equal(t, protocol.StatusCancelled, got.Task.Status)
}

// A streaming request queued during a stream waits for it to finish, and
// the immediate request behind it is only seen once that request starts
func TestRuntime_ParkedStreamingRequest(t *testing.T) {
	h := startRuntime(t, Config{Chunks: 2, Streaming: true})

	h.send(
		protocol.TasksCreate{TaskID: "t1", Prompt: "p"},
		protocol.TasksSubscribe{TaskID: "t1"},
		protocol.TasksList{},
		protocol.SessionSend{SessionID: "s", Content: "hi"},
		protocol.TasksGet{TaskID: "t1"},
	)

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeTasksCreated,
		protocol.TypeTaskStarted,
		protocol.TypeMessageDelta,
		protocol.TypeTasksListResult,
		protocol.TypeMessageDelta,
		protocol.TypeTaskCompleted,
		protocol.TypeSessionStream,
		protocol.TypeTasksGetResult,
		protocol.TypeSessionStream,
		protocol.TypeSessionComplete,
	}, h.types(10))
}

func TestRuntime_SkipsUnknownAndMalformed(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	h.sendRaw(`{"type":"tasks/frobnicate","taskId":"x"}`)
	h.sendRaw(`{"type":7}`)
	h.sendRaw(`{"noType":true}`)
	h.send(protocol.SessionStart{SessionID: "still-alive"})

	assert.Equal(t, protocol.SessionStarted{SessionID: "still-alive"}, h.next())
}

// Ill-typed optional fields fall back to defaults instead of going
// unanswered.
func TestRuntime_NonStringFieldsUseDefaults(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	h.sendRaw(`{"type":"tasks/create","taskId":7,"prompt":"p"}`)
	assert.Equal(t, "task-1", h.next().(protocol.TasksCreated).Task.ID)

	for i := 0; i < DefaultPageSize; i++ {
		h.send(protocol.TasksCreate{})
		h.next()
	}

	h.sendRaw(`{"type":"tasks/list","limit":1,"cursor":3}`)
	page := h.next().(protocol.TasksListResult)
	assert.Len(t, page.Tasks, DefaultPageSize)
	assert.Equal(t, "task-1", page.Tasks[0].ID)
	assert.Equal(t, "50", page.NextCursor)

	h.sendRaw(`{"type":"session/send","content":9}`)
	for {
		ev := h.next()
		if complete, ok := ev.(protocol.SessionComplete); ok {
			assert.Equal(t, "session-1", complete.SessionID)
			assert.Equal(t, "MockAgent response #1: ", complete.Message.Content)
			assert.Equal(t, protocol.ChatMessage{Role: protocol.RoleUser, Content: ""}, complete.History[0])
			break
		}
		assert.Equal(t, protocol.TypeSessionStream, ev.MessageType())
	}
}

func TestRuntime_UnknownTaskKeepsConnection(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	h.send(protocol.TasksSubscribe{TaskID: "nope"}, protocol.TasksCreate{})

	assert.Equal(t, protocol.TasksError{TaskID: "nope", Error: "Unknown task: nope"}, h.next())
	assert.Equal(t, "task-1", h.next().(protocol.TasksCreated).Task.ID)
}

func TestRuntime_ExitsOnEndOfInput(t *testing.T) {
	h := startRuntime(t, DefaultConfig())
	require.NoError(t, h.input.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after end of input")
	}
}

// A framing error on the inbound side ends the loop like end of input
func TestRuntime_StopsOnFramingError(t *testing.T) {
	h := startRuntime(t, DefaultConfig())

	_, err := h.input.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after framing error")
	}
}

func TestRuntime_ServeStopsOnContext(t *testing.T) {
	inR, _ := io.Pipe()
	rt := New(protocol.NewConn(bifaci.NewTransport(inR, io.Discard)), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve ignored context cancellation")
	}
}
