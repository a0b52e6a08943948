package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/machinefabric/agentinterop-go/protocol"
)

const (
	// ProviderID is the only task namespace this runtime serves.
	ProviderID = "local"
	// DefaultAgentID is used when tasks/create names no agent.
	DefaultAgentID = "mock-agent"
	// DefaultPageSize bounds a tasks/list page when no limit is given.
	DefaultPageSize = 50

	executionHint = "This task runs locally and may stop if the process exits."
)

// Stream is where streaming handlers write their events. Yield is called
// after every delta so queued requests can run before the next one.
type Stream interface {
	Emit(ev protocol.Event) error
	Yield() error
}

type taskEntry struct {
	task   protocol.Task
	prompt string
	turns  int
}

// TaskEngine owns the task registry. It is not safe for concurrent use; the
// runtime loop is its only caller.
type TaskEngine struct {
	tasks   map[string]*taskEntry
	order   []string
	counter int
	chunks  int
	now     func() time.Time
}

// NewTaskEngine creates an empty registry that splits responses into
// chunks pieces.
func NewTaskEngine(chunks int, now func() time.Time) *TaskEngine {
	if now == nil {
		now = time.Now
	}
	if chunks < 1 {
		chunks = 1
	}
	return &TaskEngine{
		tasks:  make(map[string]*taskEntry),
		chunks: chunks,
		now:    now,
	}
}

// Create registers a task, or updates the stored prompt of an existing one
// when the request carries a non-empty prompt. Status, title and agent of
// an existing task are left alone.
func (e *TaskEngine) Create(req protocol.TasksCreate) protocol.TasksCreated {
	id := req.TaskID
	if id == "" {
		e.counter++
		id = fmt.Sprintf("task-%d", e.counter)
	}

	if entry, ok := e.tasks[id]; ok {
		if req.Prompt != "" {
			entry.prompt = req.Prompt
		}
		return protocol.TasksCreated{Task: entry.snapshot()}
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}
	title := req.Title
	if title == "" {
		title = "Mock Task " + id
	}

	ts := e.now().UTC()
	entry := &taskEntry{
		task: protocol.Task{
			ID:        id,
			AgentID:   agentID,
			Status:    protocol.StatusCreated,
			Title:     title,
			CreatedAt: ts,
			UpdatedAt: ts,
			Execution: protocol.Execution{
				Location:   "local",
				Durability: "ephemeral",
				ProviderID: ProviderID,
				Hint:       executionHint,
			},
		},
		prompt: req.Prompt,
	}
	e.tasks[id] = entry
	e.order = append(e.order, id)
	return protocol.TasksCreated{Task: entry.snapshot()}
}

// List returns one page of the creation-ordered registry, optionally
// filtered by status. A foreign provider gets an empty page.
func (e *TaskEngine) List(req protocol.TasksList) protocol.TasksListResult {
	result := protocol.TasksListResult{Tasks: []protocol.Task{}}
	if req.ProviderID != "" && req.ProviderID != ProviderID {
		return result
	}

	offset := parseBound(req.Cursor, 0, 0)
	limit := parseBound(req.Limit, 1, DefaultPageSize)

	var filtered []*taskEntry
	for _, id := range e.order {
		entry := e.tasks[id]
		if req.Status != "" && entry.task.Status != req.Status {
			continue
		}
		filtered = append(filtered, entry)
	}

	for i := offset; i < len(filtered) && i < offset+limit; i++ {
		result.Tasks = append(result.Tasks, filtered[i].snapshot())
	}
	if offset+limit < len(filtered) {
		result.NextCursor = strconv.Itoa(offset + limit)
	}
	return result
}

// Get returns the task record, or tasks/error for an unknown id.
func (e *TaskEngine) Get(req protocol.TasksGet) protocol.Event {
	entry, ok := e.tasks[req.TaskID]
	if !ok {
		return unknownTask(req.TaskID)
	}
	return protocol.TasksGetResult{Task: entry.snapshot()}
}

// Cancel marks a task cancelled whatever its current status. Repeating it
// only bumps updatedAt.
func (e *TaskEngine) Cancel(req protocol.TasksCancel) protocol.Event {
	entry, ok := e.tasks[req.TaskID]
	if !ok {
		return unknownTask(req.TaskID)
	}
	entry.task.Status = protocol.StatusCancelled
	entry.task.UpdatedAt = e.now().UTC()
	return protocol.TasksCancelResult{OK: true}
}

// Subscribe streams one response turn for the task. The cancellation check
// before each delta lets a tasks/cancel handled during s.Yield stop the
// stream; at most the delta already written is delivered after it.
func (e *TaskEngine) Subscribe(req protocol.TasksSubscribe, s Stream) error {
	entry, ok := e.tasks[req.TaskID]
	if !ok {
		return s.Emit(unknownTask(req.TaskID))
	}
	id := req.TaskID

	if entry.task.Status == protocol.StatusCancelled {
		return s.Emit(e.cancelled(entry))
	}

	entry.turns++
	if !entry.task.Status.Terminal() {
		entry.task.Status = protocol.StatusRunning
		entry.task.UpdatedAt = e.now().UTC()
	}
	if err := s.Emit(protocol.TaskStarted{TaskID: id, Timestamp: e.now().UTC()}); err != nil {
		return err
	}

	body := strings.TrimRightFunc(fmt.Sprintf("MockTask response #%d: %s", entry.turns, entry.prompt), unicode.IsSpace)
	messageID := fmt.Sprintf("msg-%s-%d", id, entry.turns)

	for i, delta := range chunkString(body, e.chunks) {
		if entry.task.Status == protocol.StatusCancelled {
			return s.Emit(e.cancelled(entry))
		}
		if err := s.Emit(protocol.MessageDelta{
			TaskID:    id,
			Timestamp: e.now().UTC(),
			MessageID: messageID,
			Index:     i,
			Delta:     delta,
		}); err != nil {
			return err
		}
		if err := s.Yield(); err != nil {
			return err
		}
	}

	if entry.task.Status == protocol.StatusCancelled {
		return s.Emit(e.cancelled(entry))
	}
	if entry.task.Status != protocol.StatusCompleted {
		entry.task.Status = protocol.StatusCompleted
		entry.task.UpdatedAt = e.now().UTC()
	}
	return s.Emit(protocol.TaskCompleted{TaskID: id, Timestamp: e.now().UTC(), Task: entry.snapshot()})
}

func (e *TaskEngine) cancelled(entry *taskEntry) protocol.TaskCancelled {
	return protocol.TaskCancelled{TaskID: entry.task.ID, Timestamp: e.now().UTC(), Task: entry.snapshot()}
}

// snapshot copies the record so later mutations do not leak into events
// that are still being encoded.
func (t *taskEntry) snapshot() protocol.Task {
	task := t.task
	task.RawData = map[string]any{"mock": true, "kind": "task"}
	return task
}

func unknownTask(id string) protocol.TasksError {
	return protocol.TasksError{TaskID: id, Error: "Unknown task: " + id}
}

// parseBound parses a non-negative decimal, falling back to def when raw is
// empty, malformed, or below min.
func parseBound(raw string, min, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || n < float64(min) || n > float64(maxBound) {
		return def
	}
	return int(n)
}

const maxBound = 1 << 31
