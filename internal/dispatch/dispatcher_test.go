package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentplane/agentplane/internal/domain"
)

func textTask(input string) *domain.Task {
	return &domain.Task{
		Type:  domain.TaskTypeTextProcessing,
		Input: json.RawMessage(input),
	}
}

func TestTextProcessingOperations(t *testing.T) {
	d := New()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"uppercase", `{"operation":"uppercase","text":"hello world"}`, `{"result":"HELLO WORLD"}`},
		{"lowercase", `{"operation":"lowercase","text":"Hello World"}`, `{"result":"hello world"}`},
		{"word_count", `{"operation":"word_count","text":"one two  three"}`, `{"count":3}`},
		{"echo", `{"operation":"echo","text":"as-is"}`, `{"result":"as-is"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := d.Dispatch(context.Background(), textTask(tc.input))
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if string(out) != tc.want {
				t.Errorf("output = %s, want %s", out, tc.want)
			}
		})
	}
}

func TestTextProcessingRejectsUnknownOperation(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), textTask(`{"operation":"rot13","text":"x"}`))
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("err = %v, want ErrUnsupportedOperation", err)
	}
}

func TestValidateInput(t *testing.T) {
	d := New()

	cases := []struct {
		name     string
		taskType domain.TaskType
		input    string
		wantErr  bool
	}{
		{"valid text", domain.TaskTypeTextProcessing, `{"operation":"echo","text":"x"}`, false},
		{"bad operation", domain.TaskTypeTextProcessing, `{"operation":"nope"}`, true},
		{"not json", domain.TaskTypeTextProcessing, `{{{`, true},
		{"valid api call", domain.TaskTypeAPICall, `{"method":"GET","url":"https://example.com/x"}`, false},
		{"bad scheme", domain.TaskTypeAPICall, `{"url":"ftp://example.com"}`, true},
		{"bad method", domain.TaskTypeAPICall, `{"method":"TRACE","url":"https://example.com"}`, true},
		{"empty workflow", domain.TaskTypeWorkflow, `{"steps":[]}`, true},
		{"valid workflow", domain.TaskTypeWorkflow,
			`{"steps":[{"type":"log","params":{"message":"hi"}}]}`, false},
		{"unknown step", domain.TaskTypeWorkflow,
			`{"steps":[{"type":"shell","params":{}}]}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.ValidateInput(tc.taskType, json.RawMessage(tc.input))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestAPICallReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("missing custom header")
		}
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer srv.Close()

	d := New()
	input := fmt.Sprintf(`{"method":"GET","url":"%s","headers":{"X-Test":"yes"}}`, srv.URL)
	out, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskTypeAPICall,
		Input: json.RawMessage(input),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var result apiCallOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if result.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want 418", result.StatusCode)
	}
	if result.Body != "short and stout" {
		t.Errorf("body = %q", result.Body)
	}
}

func TestAPICallTransportFailure(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskTypeAPICall,
		Input: json.RawMessage(`{"url":"http://127.0.0.1:1"}`),
	})
	if err == nil {
		t.Fatal("expected a transport error")
	}
}

func TestWorkflowRunsStepsInOrder(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	input := fmt.Sprintf(`{"steps":[
		{"type":"text","params":{"operation":"uppercase","text":"abc"}},
		{"type":"api_call","params":{"url":"%s/first"}},
		{"type":"log","params":{"message":"done"}}
	]}`, srv.URL)

	d := New()
	out, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskTypeWorkflow,
		Input: json.RawMessage(input),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var result workflowOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("got %d step results, want 3", len(result.Steps))
	}
	for i, step := range result.Steps {
		if step.Index != i {
			t.Errorf("step %d has index %d", i, step.Index)
		}
	}
	if len(calls) != 1 || calls[0] != "/first" {
		t.Errorf("server calls = %v", calls)
	}
}

func TestWorkflowShortCircuitsOnFailure(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	// The second step's target refuses connections, the third must not run.
	input := fmt.Sprintf(`{"steps":[
		{"type":"log","params":{"message":"start"}},
		{"type":"api_call","params":{"url":"http://127.0.0.1:1"}},
		{"type":"api_call","params":{"url":"%s/after"}}
	]}`, srv.URL)

	d := New()
	_, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskTypeWorkflow,
		Input: json.RawMessage(input),
	})
	if err == nil {
		t.Fatal("expected workflow failure")
	}
	if hits != 0 {
		t.Errorf("steps after the failure still ran (%d hits)", hits)
	}
}

func TestWorkflowFailureReturnsPartialResults(t *testing.T) {
	input := `{"steps":[
		{"type":"text","params":{"operation":"uppercase","text":"abc"}},
		{"type":"log","params":{"message":"checkpoint"}},
		{"type":"api_call","params":{"url":"http://127.0.0.1:1"}}
	]}`

	d := New()
	out, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskTypeWorkflow,
		Input: json.RawMessage(input),
	})
	if err == nil {
		t.Fatal("expected workflow failure")
	}

	var result workflowOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal partial output: %v", err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("got %d completed step results, want 2", len(result.Steps))
	}
	if result.Steps[0].Type != "text" || string(result.Steps[0].Output) != `{"result":"ABC"}` {
		t.Errorf("step 0 = %s %s", result.Steps[0].Type, result.Steps[0].Output)
	}
	if result.Steps[1].Type != "log" {
		t.Errorf("step 1 type = %s, want log", result.Steps[1].Type)
	}
}

func TestWorkflowDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := New()
	_, err := d.Dispatch(ctx, &domain.Task{
		Type:  domain.TaskTypeWorkflow,
		Input: json.RawMessage(`{"steps":[{"type":"delay","params":{"duration_ms":5000}}]}`),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), &domain.Task{
		Type:  domain.TaskType("shell_command"),
		Input: json.RawMessage(`{}`),
	})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}
