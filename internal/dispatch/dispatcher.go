package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentplane/agentplane/internal/domain"
)

var (
	ErrUnsupportedType      = errors.New("unsupported task type")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrInvalidInput         = errors.New("invalid task input")
)

// Dispatcher routes a task to the handler for its type. Handlers receive the
// task's deadline through the context and must return a JSON document as
// output.
type Dispatcher struct {
	client           *http.Client
	maxResponseBytes int64
}

// New builds a dispatcher with its own HTTP client for api_call tasks.
// Per-request deadlines come from the task timeout context, so the client
// itself carries no timeout.
func New() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxResponseBytes: 1 << 20,
	}
}

// Dispatch runs the task. On failure the returned output may still be
// non-nil: a workflow reports the results of the steps that completed before
// the failing one.
func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	switch task.Type {
	case domain.TaskTypeTextProcessing:
		return d.runText(ctx, task.Input)
	case domain.TaskTypeAPICall:
		return d.runAPICall(ctx, task.Input)
	case domain.TaskTypeWorkflow:
		return d.runWorkflow(ctx, task.Input)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, task.Type)
	}
}

// ValidateInput rejects malformed payloads at task creation, before anything
// is persisted.
func (d *Dispatcher) ValidateInput(taskType domain.TaskType, input json.RawMessage) error {
	switch taskType {
	case domain.TaskTypeTextProcessing:
		_, err := parseTextInput(input)
		return err
	case domain.TaskTypeAPICall:
		_, err := parseAPICallInput(input)
		return err
	case domain.TaskTypeWorkflow:
		_, err := parseWorkflowInput(input)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, taskType)
	}
}
