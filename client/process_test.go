package client

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/protocol"
)

var (
	mockBuildOnce  sync.Once
	mockBinaryPath string
	errMockBuild   error
)

const integrationTimeout = 10 * time.Second

func buildMockBinary() {
	dir, err := os.MkdirTemp("", "mock-agent-*")
	if err != nil {
		errMockBuild = fmt.Errorf("tmpdir: %w", err)
		return
	}
	mockBinaryPath = filepath.Join(dir, "mock-agent")
	cmd := exec.Command("go", "build", "-o", mockBinaryPath, "github.com/machinefabric/agentinterop-go/cmd/mock-agent")
	if out, err := cmd.CombinedOutput(); err != nil {
		errMockBuild = fmt.Errorf("build mock: %w: %s", err, out)
		os.RemoveAll(dir)
	}
}

func mockCard(t *testing.T) agentinterop.AgentCard {
	t.Helper()
	if testing.Short() {
		t.Skip("builds and spawns the mock agent")
	}
	mockBuildOnce.Do(buildMockBinary)
	if errMockBuild != nil {
		t.Fatalf("mock binary build failed: %v", errMockBuild)
	}
	return agentinterop.MockAgentCard(mockBinaryPath)
}

func TestDial_MockAgentSession(t *testing.T) {
	card := mockCard(t)
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	var stderr bytes.Buffer
	c, err := Dial(ctx, card, WithAgentArgs("--chunks=2"), WithStderr(&stderr))
	require.NoError(t, err)

	assert.Equal(t, c.Process().Pid(), c.Ready().PID)
	assert.Equal(t, 1, c.Ready().Version)

	var deltas int
	turn, err := c.Send(ctx, "s1", "hello", func(string) { deltas++ })
	require.NoError(t, err)
	assert.Equal(t, 2, deltas)
	assert.Equal(t, "MockAgent response #1: hello", turn.Text)

	require.NoError(t, c.Close(ctx))
	select {
	case <-c.Process().Exited():
	default:
		t.Fatal("agent still running after Close")
	}
	// Closing twice is harmless
	require.NoError(t, c.Close(ctx))
}

func TestDial_StreamingEnvOverride(t *testing.T) {
	card := mockCard(t)
	card.Env = []string{"AGENTINTEROP_STREAMING=off"}
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	c, err := Dial(ctx, card)
	require.NoError(t, err)
	defer c.Close(ctx)

	turn, err := c.Send(ctx, "s", "quiet", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, turn.Deltas)
	assert.Equal(t, "MockAgent response #1: quiet", turn.Text)
}

// Independent agents run side by side without sharing state
func TestDial_ConcurrentAgents(t *testing.T) {
	card := mockCard(t)
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := Dial(ctx, card)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close(ctx)

			task, err := c.CreateTask(ctx, protocol.TasksCreate{Prompt: fmt.Sprint("job ", n)})
			if err != nil {
				errs <- err
				return
			}
			if task.ID != "task-1" {
				errs <- fmt.Errorf("agent %d: got %s, want task-1", n, task.ID)
				return
			}
			run, err := c.Subscribe(ctx, task.ID, nil)
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprint("MockTask response #1: job ", n); run.Text != want {
				errs <- fmt.Errorf("agent %d: got %q, want %q", n, run.Text, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

// A killed agent surfaces as a stream end, not a hang
func TestDial_AgentDies(t *testing.T) {
	card := mockCard(t)
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	c, err := Dial(ctx, card)
	require.NoError(t, err)
	defer c.Close(ctx)

	require.NoError(t, c.Process().Kill())
	_, err = c.GetTask(ctx, "t")
	assert.Error(t, err)
}

func TestDial_SpawnFailure(t *testing.T) {
	card := agentinterop.MockAgentCard(filepath.Join(t.TempDir(), "missing"))
	_, err := Dial(context.Background(), card)
	assert.Error(t, err)
}
