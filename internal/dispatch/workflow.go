package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

const maxWorkflowSteps = 20

type workflowInput struct {
	Steps []workflowStep `json:"steps"`
}

type workflowStep struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

type delayParams struct {
	DurationMS int `json:"duration_ms"`
}

type logParams struct {
	Message string `json:"message"`
}

type workflowStepResult struct {
	Index  int             `json:"index"`
	Type   string          `json:"type"`
	Output json.RawMessage `json:"output,omitempty"`
}

type workflowOutput struct {
	Steps []workflowStepResult `json:"steps"`
}

func parseWorkflowInput(input json.RawMessage) (*workflowInput, error) {
	var in workflowInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(in.Steps) == 0 {
		return nil, fmt.Errorf("%w: workflow has no steps", ErrInvalidInput)
	}
	if len(in.Steps) > maxWorkflowSteps {
		return nil, fmt.Errorf("%w: workflow exceeds %d steps", ErrInvalidInput, maxWorkflowSteps)
	}

	for i, step := range in.Steps {
		if err := validateWorkflowStep(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	return &in, nil
}

func validateWorkflowStep(step workflowStep) error {
	switch step.Type {
	case "delay":
		var p delayParams
		if err := json.Unmarshal(step.Params, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if p.DurationMS <= 0 {
			return fmt.Errorf("%w: delay needs a positive duration_ms", ErrInvalidInput)
		}
		return nil
	case "log":
		var p logParams
		if err := json.Unmarshal(step.Params, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil
	case "text":
		_, err := parseTextInput(step.Params)
		return err
	case "api_call":
		_, err := parseAPICallInput(step.Params)
		return err
	default:
		return fmt.Errorf("%w: step type %q", ErrUnsupportedOperation, step.Type)
	}
}

// runWorkflow executes steps strictly in order and stops at the first
// failure; a failed step fails the whole task. The results of the steps that
// did complete are returned alongside the error.
func (d *Dispatcher) runWorkflow(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := parseWorkflowInput(input)
	if err != nil {
		return nil, err
	}

	out := workflowOutput{Steps: make([]workflowStepResult, 0, len(in.Steps))}

	for i, step := range in.Steps {
		stepOut, err := d.runWorkflowStep(ctx, step)
		if err != nil {
			partial, mErr := json.Marshal(out)
			if mErr != nil {
				partial = nil
			}
			return partial, fmt.Errorf("step %d (%s): %w", i, step.Type, err)
		}
		out.Steps = append(out.Steps, workflowStepResult{Index: i, Type: step.Type, Output: stepOut})
	}

	return json.Marshal(out)
}

func (d *Dispatcher) runWorkflowStep(ctx context.Context, step workflowStep) (json.RawMessage, error) {
	switch step.Type {
	case "delay":
		var p delayParams
		if err := json.Unmarshal(step.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		select {
		case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
			return json.Marshal(map[string]int{"slept_ms": p.DurationMS})
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case "log":
		var p logParams
		if err := json.Unmarshal(step.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		log.Printf("[WORKFLOW] %s", p.Message)
		return json.Marshal(map[string]string{"logged": p.Message})
	case "text":
		return d.runText(ctx, step.Params)
	case "api_call":
		return d.runAPICall(ctx, step.Params)
	default:
		return nil, fmt.Errorf("%w: step type %q", ErrUnsupportedOperation, step.Type)
	}
}
