package executors

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/deepnoodle-ai/conductor"
)

// PrintExecutor writes a message to its output writer.
type PrintExecutor struct {
	writer io.Writer
}

func NewPrintExecutor() *PrintExecutor {
	return &PrintExecutor{writer: os.Stdout}
}

// NewPrintExecutorWithWriter directs output to the given writer. Used by
// tests.
func NewPrintExecutorWithWriter(w io.Writer) *PrintExecutor {
	return &PrintExecutor{writer: w}
}

func (e *PrintExecutor) Type() string {
	return "print"
}

func (e *PrintExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	message, ok := req.Parameters["message"]
	if !ok {
		return nil, fmt.Errorf("print requires 'message' parameter")
	}
	fmt.Fprintln(e.writer, message)
	return &conductor.StepResult{Output: message}, nil
}
