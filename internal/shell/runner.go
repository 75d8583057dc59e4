// Package shell runs external client tools (mysqldump, mysqlbinlog, az)
// with argv only; nothing is ever passed through /bin/sh.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrCommandFailed wraps every non-zero exit or start failure.
var ErrCommandFailed = errors.New("command failed")

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Env is appended to os.Environ(); use it for secrets such as MYSQL_PWD.
	Env []string
	Dir string
	// Stdout receives standard output. When nil, output is captured into Result.
	Stdout io.Writer
}

// String renders the command for logs. Env is never included.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes commands. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run starts cmd and waits for it. The returned error carries the trimmed
// stderr so operators see why the tool failed.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", err, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return res, fmt.Errorf("%w: %s: %v", ErrCommandFailed, cmd.Name, err)
		}
		return res, fmt.Errorf("%w: %s: %v: %s", ErrCommandFailed, cmd.Name, err, msg)
	}
	return res, nil
}
