package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type textInput struct {
	Operation string `json:"operation"`
	Text      string `json:"text"`
}

type textOutput struct {
	Result string `json:"result,omitempty"`
	Count  int    `json:"count,omitempty"`
}

var textOperations = map[string]bool{
	"uppercase":  true,
	"lowercase":  true,
	"word_count": true,
	"echo":       true,
}

func parseTextInput(input json.RawMessage) (*textInput, error) {
	var in textInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !textOperations[in.Operation] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, in.Operation)
	}
	return &in, nil
}

func (d *Dispatcher) runText(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := parseTextInput(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out textOutput
	switch in.Operation {
	case "uppercase":
		out.Result = strings.ToUpper(in.Text)
	case "lowercase":
		out.Result = strings.ToLower(in.Text)
	case "word_count":
		out.Count = len(strings.Fields(in.Text))
	case "echo":
		out.Result = in.Text
	}

	return json.Marshal(out)
}
