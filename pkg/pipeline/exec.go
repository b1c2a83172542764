package pipeline

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Runner runs one pipeline command in a working tree.
type Runner interface {
	Run(ctx context.Context, workdir, command string) error
}

// ShellRunner runs commands through the shell in the exported tree,
// with the daemon's environment. Output is captured and quoted in the
// error when the command fails.
type ShellRunner struct {
	Logger log.Logger
}

// how much trailing output to keep in error messages
const outputTail = 1024

func (r ShellRunner) Run(ctx context.Context, workdir, command string) error {
	output := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	cmd.Dir = workdir
	cmd.Stdout = output
	cmd.Stderr = output
	err := cmd.Run()
	if r.Logger != nil {
		r.Logger.Log("cmd", command, "dir", workdir, "success", err == nil)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ctx.Err()
		}
		return errors.Wrapf(err, "running %q: %s", command, tail(output.Bytes()))
	}
	return nil
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
