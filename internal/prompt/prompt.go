// File: internal/prompt/prompt.go

// Package prompt bridges the login state machine to a human operator. When
// the provider demands an out-of-band verification code mid-login, the
// session manager blocks on a CodeSource until the operator supplies the
// value or the surrounding context is canceled.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// CodeSource supplies one-time verification codes on demand. Implementations
// must honor ctx cancellation; the wait is otherwise unbounded. A terminal
// reader serves interactive deployments; non-interactive ones can substitute
// a webhook- or polling-backed implementation.
type CodeSource interface {
	Code(ctx context.Context, kind string) (string, error)
}

// TerminalSource reads a verification code as a single line from in,
// announcing the request on out.
type TerminalSource struct {
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewTerminalSource creates a CodeSource bound to the given streams.
func NewTerminalSource(in io.Reader, out io.Writer, logger *zap.Logger) *TerminalSource {
	return &TerminalSource{
		in:     in,
		out:    out,
		logger: logger.Named("prompt"),
	}
}

type readResult struct {
	line string
	err  error
}

// Code blocks until a line is read from the input stream or ctx is canceled.
// The read itself runs on a goroutine so cancellation is always observed,
// even while the underlying reader is blocked.
func (t *TerminalSource) Code(ctx context.Context, kind string) (string, error) {
	fmt.Fprintf(t.out, "Enter the %s verification code: ", kind)
	t.logger.Info("Waiting for operator-supplied verification code.", zap.String("kind", kind))

	resultChan := make(chan readResult, 1)
	go func() {
		scanner := bufio.NewScanner(t.in)
		if scanner.Scan() {
			resultChan <- readResult{line: strings.TrimSpace(scanner.Text())}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		resultChan <- readResult{err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return "", fmt.Errorf("failed to read verification code: %w", res.err)
		}
		if res.line == "" {
			return "", fmt.Errorf("empty verification code supplied")
		}
		return res.line, nil
	case <-ctx.Done():
		return "", fmt.Errorf("canceled while waiting for verification code: %w", ctx.Err())
	}
}
