package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/machinefabric/agentinterop-go/protocol"
)

// TaskRun is the outcome of one subscription.
type TaskRun struct {
	// Task is the record from the terminal event.
	Task      protocol.Task
	Cancelled bool
	// Started is false when the task was already cancelled.
	Started   bool
	MessageID string
	// Text is the deltas joined in index order.
	Text string
}

// CreateTask creates a task, or updates the prompt of an existing id.
func (c *Client) CreateTask(ctx context.Context, req protocol.TasksCreate) (protocol.Task, error) {
	if err := c.send(req); err != nil {
		return protocol.Task{}, err
	}
	for {
		ev, err := c.WaitFor(ctx, protocol.TypeTasksCreated)
		if err != nil {
			return protocol.Task{}, err
		}
		task := ev.(protocol.TasksCreated).Task
		if req.TaskID == "" || task.ID == req.TaskID {
			return task, nil
		}
	}
}

// ListTasks fetches one page.
func (c *Client) ListTasks(ctx context.Context, req protocol.TasksList) (protocol.TasksListResult, error) {
	if err := c.send(req); err != nil {
		return protocol.TasksListResult{}, err
	}
	ev, err := c.WaitFor(ctx, protocol.TypeTasksListResult)
	if err != nil {
		return protocol.TasksListResult{}, err
	}
	return ev.(protocol.TasksListResult), nil
}

// ListAllTasks follows nextCursor from the first page until the last.
// pageSize below 1 uses the agent's default.
func (c *Client) ListAllTasks(ctx context.Context, filter protocol.TasksList, pageSize int) ([]protocol.Task, error) {
	req := filter
	req.Cursor = ""
	if pageSize >= 1 {
		req.Limit = strconv.Itoa(pageSize)
	}

	var all []protocol.Task
	seen := make(map[string]bool)
	for {
		page, err := c.ListTasks(ctx, req)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Tasks...)
		if page.NextCursor == "" {
			return all, nil
		}
		if seen[page.NextCursor] {
			return nil, fmt.Errorf("tasks/list cursor %q repeated", page.NextCursor)
		}
		seen[page.NextCursor] = true
		req.Cursor = page.NextCursor
	}
}

// GetTask returns the task record. An unknown id yields *TaskError.
func (c *Client) GetTask(ctx context.Context, taskID string) (protocol.Task, error) {
	ev, err := c.call(ctx, protocol.TasksGet{TaskID: taskID}, taskID, protocol.TypeTasksGetResult)
	if err != nil {
		return protocol.Task{}, err
	}
	return ev.(protocol.TasksGetResult).Task, nil
}

// CancelTask marks the task cancelled. An unknown id yields *TaskError.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	ev, err := c.call(ctx, protocol.TasksCancel{TaskID: taskID}, taskID, protocol.TypeTasksCancelResult)
	if err != nil {
		return err
	}
	if !ev.(protocol.TasksCancelResult).OK {
		return &TaskError{TaskID: taskID, Message: "cancel not acknowledged"}
	}
	return nil
}

// Subscribe streams one turn of the task until task.completed or
// task.cancelled. onEvent, if set, sees every event of the stream.
func (c *Client) Subscribe(ctx context.Context, taskID string, onEvent func(protocol.Event)) (*TaskRun, error) {
	if err := c.send(protocol.TasksSubscribe{TaskID: taskID}); err != nil {
		return nil, err
	}

	run := &TaskRun{}
	deltas := make(map[int]string)
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return nil, err
		}

		if terr, ok := ev.(protocol.TasksError); ok && terr.TaskID == taskID {
			return nil, &TaskError{TaskID: terr.TaskID, Message: terr.Error}
		}
		if !protocol.IsTaskEvent(ev) || taskIDOf(ev) != taskID {
			c.logger.Debug("skipping message", "type", ev.MessageType(), "task_id", taskID)
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}

		switch ev := ev.(type) {
		case protocol.TaskStarted:
			run.Started = true
		case protocol.MessageDelta:
			run.MessageID = ev.MessageID
			deltas[ev.Index] = ev.Delta
		case protocol.TaskCompleted:
			run.Task = ev.Task
			run.Text = joinByIndex(deltas)
			return run, nil
		case protocol.TaskCancelled:
			run.Task = ev.Task
			run.Cancelled = true
			run.Text = joinByIndex(deltas)
			return run, nil
		}
	}
}

// call sends req and waits for want or a tasks/error about taskID.
func (c *Client) call(ctx context.Context, req protocol.Request, taskID string, want protocol.MessageType) (protocol.Event, error) {
	if err := c.send(req); err != nil {
		return nil, err
	}
	for {
		ev, err := c.WaitFor(ctx, want, protocol.TypeTasksError)
		if err != nil {
			return nil, err
		}
		if terr, ok := ev.(protocol.TasksError); ok {
			if terr.TaskID != taskID {
				continue
			}
			return nil, &TaskError{TaskID: terr.TaskID, Message: terr.Error}
		}
		return ev, nil
	}
}

func taskIDOf(ev protocol.Event) string {
	switch ev := ev.(type) {
	case protocol.TaskStarted:
		return ev.TaskID
	case protocol.MessageDelta:
		return ev.TaskID
	case protocol.TaskCompleted:
		return ev.TaskID
	case protocol.TaskCancelled:
		return ev.TaskID
	}
	return ""
}
