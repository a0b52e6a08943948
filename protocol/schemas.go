package protocol

// Fields the runtime tolerates as missing are left out of "required"; the
// engines answer them with a protocol-level error instead. Request schemas
// see the payload after DecodeRequest has dropped non-string fields.

const taskSchema = `{
	"type": "object",
	"required": ["id", "status"],
	"properties": {
		"id": {"type": "string"},
		"agentId": {"type": "string"},
		"status": {"enum": ["created", "running", "completed", "cancelled"]},
		"title": {"type": "string"},
		"createdAt": {"type": "string"},
		"updatedAt": {"type": "string"},
		"execution": {"type": "object"},
		"_rawData": {"type": "object"}
	}
}`

const chatMessageSchema = `{
	"type": "object",
	"required": ["role", "content"],
	"properties": {
		"role": {"enum": ["user", "assistant"]},
		"content": {"type": "string"}
	}
}`

var schemas = map[MessageType]string{
	TypeSessionStart: `{
		"type": "object",
		"properties": {"sessionId": {"type": "string"}}
	}`,
	TypeSessionSend: `{
		"type": "object",
		"properties": {
			"sessionId": {"type": "string"},
			"content": {"type": "string"}
		}
	}`,
	TypeTasksCreate: `{
		"type": "object",
		"properties": {
			"taskId": {"type": "string"},
			"agentId": {"type": "string"},
			"title": {"type": "string"},
			"prompt": {"type": "string"}
		}
	}`,
	TypeTasksList: `{
		"type": "object",
		"properties": {
			"providerId": {"type": "string"},
			"status": {"type": "string"},
			"cursor": {"type": "string"},
			"limit": {"type": "string"}
		}
	}`,
	TypeTasksGet:       taskRefSchema,
	TypeTasksCancel:    taskRefSchema,
	TypeTasksSubscribe: taskRefSchema,

	TypeReady: `{
		"type": "object",
		"required": ["pid"],
		"properties": {
			"pid": {"type": "integer"},
			"version": {"type": "integer"}
		}
	}`,
	TypeSessionStarted: `{
		"type": "object",
		"required": ["sessionId"],
		"properties": {"sessionId": {"type": "string"}}
	}`,
	TypeSessionStream: `{
		"type": "object",
		"required": ["sessionId", "index", "delta"],
		"properties": {
			"sessionId": {"type": "string"},
			"index": {"type": "integer", "minimum": 0},
			"delta": {"type": "string"}
		}
	}`,
	TypeSessionComplete: `{
		"type": "object",
		"required": ["sessionId", "message", "history"],
		"properties": {
			"sessionId": {"type": "string"},
			"message": ` + chatMessageSchema + `,
			"history": {"type": "array", "items": ` + chatMessageSchema + `}
		}
	}`,
	TypeToolCall: `{
		"type": "object",
		"required": ["sessionId", "name"],
		"properties": {
			"sessionId": {"type": "string"},
			"name": {"type": "string"},
			"args": {"type": "object"}
		}
	}`,
	TypeTasksCreated:   taskHolderSchema,
	TypeTasksGetResult: taskHolderSchema,
	TypeTasksListResult: `{
		"type": "object",
		"required": ["tasks"],
		"properties": {
			"tasks": {"type": "array", "items": ` + taskSchema + `},
			"nextCursor": {"type": "string"}
		}
	}`,
	TypeTasksCancelResult: `{
		"type": "object",
		"required": ["ok"],
		"properties": {"ok": {"type": "boolean"}}
	}`,
	TypeTasksError: `{
		"type": "object",
		"required": ["taskId", "error"],
		"properties": {
			"taskId": {"type": "string"},
			"error": {"type": "string"}
		}
	}`,
	TypeTaskStarted: `{
		"type": "object",
		"required": ["taskId"],
		"properties": {
			"taskId": {"type": "string"},
			"timestamp": {"type": "string"}
		}
	}`,
	TypeMessageDelta: `{
		"type": "object",
		"required": ["taskId", "messageId", "index", "delta"],
		"properties": {
			"taskId": {"type": "string"},
			"timestamp": {"type": "string"},
			"messageId": {"type": "string"},
			"index": {"type": "integer", "minimum": 0},
			"delta": {"type": "string"}
		}
	}`,
	TypeTaskCompleted: terminalSchema,
	TypeTaskCancelled: terminalSchema,
}

const taskRefSchema = `{
	"type": "object",
	"properties": {"taskId": {"type": "string"}}
}`

const taskHolderSchema = `{
	"type": "object",
	"required": ["task"],
	"properties": {"task": ` + taskSchema + `}
}`

const terminalSchema = `{
	"type": "object",
	"required": ["taskId", "task"],
	"properties": {
		"taskId": {"type": "string"},
		"timestamp": {"type": "string"},
		"task": ` + taskSchema + `
	}
}`
