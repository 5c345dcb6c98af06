// Package worker runs a single request in a child process and returns its
// result. A crash or panic in the child surfaces as an *Error carrying the
// child's traceback instead of taking the caller down with it.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime/debug"
	"strings"
)

// Operations understood by codec workers.
const (
	OpExplode = "explode"
	OpRebuild = "rebuild"
)

// Request is sent to the worker on its standard input.
type Request struct {
	Op string `json:"op"`
	// Path is the book to explode, or the OPF to rebuild from.
	Path string `json:"path"`
	// Dest is the directory to explode into, or the book to write.
	Dest string `json:"dest"`
	// ObfuscatedFonts lists font files (slash separated, relative to the
	// OPF root) that must be re-obfuscated on rebuild.
	ObfuscatedFonts []string `json:"obfuscated_fonts,omitempty"`
}

// Result is written by the worker on its standard output.
type Result struct {
	OPFPath         string   `json:"opf_path,omitempty"`
	ObfuscatedFonts []string `json:"obfuscated_fonts,omitempty"`
	Error           string   `json:"error,omitempty"`
	Traceback       string   `json:"traceback,omitempty"`
}

// Error reports a failed worker request.
type Error struct {
	Op        string
	Message   string
	Traceback string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("worker %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Handler serves one request inside the worker process.
type Handler func(ctx context.Context, req Request) (Result, error)

// Call starts command, sends req and waits for the result. Cancelling ctx
// kills the worker.
func Call(ctx context.Context, command []string, req Request) (Result, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return Result{}, errors.New("worker: empty command")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("worker: encode request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	var res Result
	decErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res)
	switch {
	case runErr != nil:
		tb := res.Traceback
		if tb == "" {
			tb = strings.TrimSpace(stderr.String())
		}
		return Result{}, &Error{Op: req.Op, Message: res.Error, Traceback: tb, Err: runErr}
	case decErr != nil:
		return Result{}, &Error{Op: req.Op, Traceback: strings.TrimSpace(stderr.String()), Err: fmt.Errorf("decode result: %w", decErr)}
	case res.Error != "":
		return Result{}, &Error{Op: req.Op, Message: res.Error, Traceback: res.Traceback}
	}
	return res, nil
}

// Serve reads one request from r, runs h and writes the result to w.
// Handler errors and panics are reported in the result; only I/O failures
// are returned.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("worker: decode request: %w", err)
	}
	res := run(ctx, req, h)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("worker: encode result: %w", err)
	}
	return nil
}

func run(ctx context.Context, req Request, h Handler) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Error: fmt.Sprintf("panic: %v", p), Traceback: string(debug.Stack())}
		}
	}()
	out, err := h(ctx, req)
	if err != nil {
		return Result{Error: err.Error(), Traceback: fmt.Sprintf("%+v", err)}
	}
	return out
}
