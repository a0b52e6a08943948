// Package protocol defines the messages exchanged between a controlling
// process and an agent runtime, one sum type per direction.
//
// A Request travels from the controller to the agent; an Event travels from
// the agent to the controller. Every message is a JSON object whose "type"
// field selects the concrete Go type.
package protocol

import "time"

// MessageType is the wire discriminator carried in the "type" field.
type MessageType string

// Controller to agent.
const (
	TypeSessionStart   MessageType = "session/start"
	TypeSessionSend    MessageType = "session/send"
	TypeTasksCreate    MessageType = "tasks/create"
	TypeTasksList      MessageType = "tasks/list"
	TypeTasksGet       MessageType = "tasks/get"
	TypeTasksCancel    MessageType = "tasks/cancel"
	TypeTasksSubscribe MessageType = "tasks/subscribe"
)

// Agent to controller.
const (
	TypeReady             MessageType = "ready"
	TypeSessionStarted    MessageType = "session/started"
	TypeSessionStream     MessageType = "session/stream"
	TypeSessionComplete   MessageType = "session/complete"
	TypeToolCall          MessageType = "tool/call"
	TypeTasksCreated      MessageType = "tasks/created"
	TypeTasksListResult   MessageType = "tasks/listResult"
	TypeTasksGetResult    MessageType = "tasks/getResult"
	TypeTasksCancelResult MessageType = "tasks/cancelResult"
	TypeTasksError        MessageType = "tasks/error"
	TypeTaskStarted       MessageType = "task.started"
	TypeMessageDelta      MessageType = "message.delta"
	TypeTaskCompleted     MessageType = "task.completed"
	TypeTaskCancelled     MessageType = "task.cancelled"
)

// Message is any protocol message.
type Message interface {
	MessageType() MessageType
}

// Request is a message sent by the controller to the agent.
type Request interface {
	Message
	isRequest()
}

// Event is a message sent by the agent to the controller.
type Event interface {
	Message
	isEvent()
}

// Role of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a session history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusCreated   TaskStatus = "created"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is completed or cancelled.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Execution describes where and how durably a task runs.
type Execution struct {
	Location   string `json:"location"`
	Durability string `json:"durability"`
	ProviderID string `json:"providerId"`
	Hint       string `json:"hint"`
}

// Task is the record returned by every task operation.
type Task struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agentId"`
	Status    TaskStatus     `json:"status"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Execution Execution      `json:"execution"`
	RawData   map[string]any `json:"_rawData,omitempty"`
}

// --- Requests ---

type SessionStart struct {
	SessionID string `json:"sessionId,omitempty"`
}

type SessionSend struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

type TasksCreate struct {
	TaskID  string `json:"taskId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
	Title   string `json:"title,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// TasksList filters and pages the task registry. Cursor and Limit are
// decimal strings on the wire.
type TasksList struct {
	ProviderID string     `json:"providerId,omitempty"`
	Status     TaskStatus `json:"status,omitempty"`
	Cursor     string     `json:"cursor,omitempty"`
	Limit      string     `json:"limit,omitempty"`
}

type TasksGet struct {
	TaskID string `json:"taskId"`
}

type TasksCancel struct {
	TaskID string `json:"taskId"`
}

type TasksSubscribe struct {
	TaskID string `json:"taskId"`
}

func (SessionStart) MessageType() MessageType   { return TypeSessionStart }
func (SessionSend) MessageType() MessageType    { return TypeSessionSend }
func (TasksCreate) MessageType() MessageType    { return TypeTasksCreate }
func (TasksList) MessageType() MessageType      { return TypeTasksList }
func (TasksGet) MessageType() MessageType       { return TypeTasksGet }
func (TasksCancel) MessageType() MessageType    { return TypeTasksCancel }
func (TasksSubscribe) MessageType() MessageType { return TypeTasksSubscribe }

func (SessionStart) isRequest()   {}
func (SessionSend) isRequest()    {}
func (TasksCreate) isRequest()    {}
func (TasksList) isRequest()      {}
func (TasksGet) isRequest()       {}
func (TasksCancel) isRequest()    {}
func (TasksSubscribe) isRequest() {}

// --- Events ---

// Ready is the first message an agent runtime writes.
type Ready struct {
	PID     int `json:"pid"`
	Version int `json:"version,omitempty"`
}

type SessionStarted struct {
	SessionID string `json:"sessionId"`
}

type SessionStream struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Delta     string `json:"delta"`
}

type SessionComplete struct {
	SessionID string        `json:"sessionId"`
	Message   ChatMessage   `json:"message"`
	History   []ChatMessage `json:"history"`
}

type ToolCall struct {
	SessionID string         `json:"sessionId"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
}

type TasksCreated struct {
	Task Task `json:"task"`
}

// TasksListResult carries one page. NextCursor is empty on the final page.
type TasksListResult struct {
	Tasks      []Task `json:"tasks"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type TasksGetResult struct {
	Task Task `json:"task"`
}

type TasksCancelResult struct {
	OK bool `json:"ok"`
}

// TasksError reports an operation on an unknown task.
type TasksError struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

type TaskStarted struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDelta struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
	Index     int       `json:"index"`
	Delta     string    `json:"delta"`
}

type TaskCompleted struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Task      Task      `json:"task"`
}

type TaskCancelled struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Task      Task      `json:"task"`
}

func (Ready) MessageType() MessageType             { return TypeReady }
func (SessionStarted) MessageType() MessageType    { return TypeSessionStarted }
func (SessionStream) MessageType() MessageType     { return TypeSessionStream }
func (SessionComplete) MessageType() MessageType   { return TypeSessionComplete }
func (ToolCall) MessageType() MessageType          { return TypeToolCall }
func (TasksCreated) MessageType() MessageType      { return TypeTasksCreated }
func (TasksListResult) MessageType() MessageType   { return TypeTasksListResult }
func (TasksGetResult) MessageType() MessageType    { return TypeTasksGetResult }
func (TasksCancelResult) MessageType() MessageType { return TypeTasksCancelResult }
func (TasksError) MessageType() MessageType        { return TypeTasksError }
func (TaskStarted) MessageType() MessageType       { return TypeTaskStarted }
func (MessageDelta) MessageType() MessageType      { return TypeMessageDelta }
func (TaskCompleted) MessageType() MessageType     { return TypeTaskCompleted }
func (TaskCancelled) MessageType() MessageType     { return TypeTaskCancelled }

func (Ready) isEvent()             {}
func (SessionStarted) isEvent()    {}
func (SessionStream) isEvent()     {}
func (SessionComplete) isEvent()   {}
func (ToolCall) isEvent()          {}
func (TasksCreated) isEvent()      {}
func (TasksListResult) isEvent()   {}
func (TasksGetResult) isEvent()    {}
func (TasksCancelResult) isEvent() {}
func (TasksError) isEvent()        {}
func (TaskStarted) isEvent()       {}
func (MessageDelta) isEvent()      {}
func (TaskCompleted) isEvent()     {}
func (TaskCancelled) isEvent()     {}

// IsTaskEvent reports whether e belongs to a task subscription stream.
func IsTaskEvent(e Event) bool {
	switch e.(type) {
	case TaskStarted, MessageDelta, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}
