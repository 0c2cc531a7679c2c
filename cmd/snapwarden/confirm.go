package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yairfalse/snapwarden/executor"
)

// promptConfirmer asks on the terminal before destructive runs
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

// RequestConfirmation lists the instances and reads a yes/no answer. EOF
// counts as no.
func (p *promptConfirmer) RequestConfirmation(ctx context.Context, req executor.ConfirmationRequest) (*executor.ConfirmationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fmt.Fprintf(p.out, "%s\n", req.Message)
	for _, id := range req.InstanceIDs {
		fmt.Fprintf(p.out, "  - %s\n", id)
	}
	fmt.Fprint(p.out, "Type 'yes' to continue: ")

	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read answer: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	approved := answer == "yes" || answer == "y"
	if !approved {
		fmt.Fprintln(p.out, "Aborted.")
	}
	return &executor.ConfirmationResponse{Approved: approved, Message: answer}, nil
}
