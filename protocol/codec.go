package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownType is wrapped by DecodeError when the "type" field names no
// message of the expected direction.
var ErrUnknownType = errors.New("unknown message type")

// DecodeError describes a payload that could not be turned into a message.
// The connection stays usable; callers decide whether to skip the message.
type DecodeError struct {
	Type    MessageType
	Details string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode message: %s", e.Details)
	}
	return fmt.Sprintf("decode %q: %s", e.Type, e.Details)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Marshal encodes m as a JSON object with its "type" field first.
func Marshal(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.MessageType(), err)
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("marshal %s: not an object", m.MessageType())
	}

	typ, err := json.Marshal(string(m.MessageType()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// PeekType returns the "type" field of a raw message.
func PeekType(raw []byte) (MessageType, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", &DecodeError{Details: err.Error(), Err: err}
	}
	if head.Type == nil {
		return "", &DecodeError{Details: "missing string field \"type\""}
	}
	return MessageType(*head.Type), nil
}

// DecodeRequest validates raw against the schema of its request type and
// decodes it. Every request field is a string on the wire; a field of any
// other JSON type is treated as absent so the engines apply their defaults.
func DecodeRequest(raw []byte) (Request, error) {
	typ, err := PeekType(raw)
	if err != nil {
		return nil, err
	}
	if raw, err = dropNonStrings(typ, raw); err != nil {
		return nil, err
	}

	var req Request
	switch typ {
	case TypeSessionStart:
		req, err = decodeAs[SessionStart](typ, raw)
	case TypeSessionSend:
		req, err = decodeAs[SessionSend](typ, raw)
	case TypeTasksCreate:
		req, err = decodeAs[TasksCreate](typ, raw)
	case TypeTasksList:
		req, err = decodeAs[TasksList](typ, raw)
	case TypeTasksGet:
		req, err = decodeAs[TasksGet](typ, raw)
	case TypeTasksCancel:
		req, err = decodeAs[TasksCancel](typ, raw)
	case TypeTasksSubscribe:
		req, err = decodeAs[TasksSubscribe](typ, raw)
	default:
		return nil, &DecodeError{Type: typ, Details: "not a request", Err: ErrUnknownType}
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeEvent validates raw against the schema of its event type and
// decodes it.
func DecodeEvent(raw []byte) (Event, error) {
	typ, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	var ev Event
	switch typ {
	case TypeReady:
		ev, err = decodeAs[Ready](typ, raw)
	case TypeSessionStarted:
		ev, err = decodeAs[SessionStarted](typ, raw)
	case TypeSessionStream:
		ev, err = decodeAs[SessionStream](typ, raw)
	case TypeSessionComplete:
		ev, err = decodeAs[SessionComplete](typ, raw)
	case TypeToolCall:
		ev, err = decodeAs[ToolCall](typ, raw)
	case TypeTasksCreated:
		ev, err = decodeAs[TasksCreated](typ, raw)
	case TypeTasksListResult:
		ev, err = decodeAs[TasksListResult](typ, raw)
	case TypeTasksGetResult:
		ev, err = decodeAs[TasksGetResult](typ, raw)
	case TypeTasksCancelResult:
		ev, err = decodeAs[TasksCancelResult](typ, raw)
	case TypeTasksError:
		ev, err = decodeAs[TasksError](typ, raw)
	case TypeTaskStarted:
		ev, err = decodeAs[TaskStarted](typ, raw)
	case TypeMessageDelta:
		ev, err = decodeAs[MessageDelta](typ, raw)
	case TypeTaskCompleted:
		ev, err = decodeAs[TaskCompleted](typ, raw)
	case TypeTaskCancelled:
		ev, err = decodeAs[TaskCancelled](typ, raw)
	default:
		return nil, &DecodeError{Type: typ, Details: "not an event", Err: ErrUnknownType}
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func dropNonStrings(typ MessageType, raw []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Type: typ, Details: err.Error(), Err: err}
	}
	dropped := false
	for name, value := range fields {
		if name == "type" {
			continue
		}
		if value = bytes.TrimSpace(value); len(value) == 0 || value[0] != '"' {
			delete(fields, name)
			dropped = true
		}
	}
	if !dropped {
		return raw, nil
	}
	return json.Marshal(fields)
}

func decodeAs[T Message](typ MessageType, raw []byte) (T, error) {
	var out T
	if err := validate(typ, raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &DecodeError{Type: typ, Details: err.Error(), Err: err}
	}
	return out, nil
}

var (
	compileOnce sync.Once
	compiled    map[MessageType]*gojsonschema.Schema
	compileErr  error
)

// validate checks raw against the JSON schema registered for typ.
func validate(typ MessageType, raw []byte) error {
	compileOnce.Do(func() {
		compiled = make(map[MessageType]*gojsonschema.Schema, len(schemas))
		for t, src := range schemas {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", t, err)
				return
			}
			compiled[t] = s
		}
	})
	if compileErr != nil {
		return compileErr
	}

	schema, ok := compiled[typ]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &DecodeError{Type: typ, Details: err.Error(), Err: err}
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &DecodeError{Type: typ, Details: strings.Join(details, "; ")}
	}
	return nil
}
