package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

const Usage = `usage: relayctl <command>

commands:
  deploy    deploy the relay function project
  watch     redeploy on every local change
  get-url   print the public URL of the forward function
  help      show this message
`

// ErrUsage is returned for help and unknown commands.
var ErrUsage = errors.New("usage")

// Runner executes an external tool.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs name with the process' stdio attached.
func ExecRunner(stdout, stderr io.Writer) Runner {
	return func(ctx context.Context, name string, args ...string) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		return cmd.Run()
	}
}

type CLI struct {
	// Tool is the deployment binary, "doctl" by default.
	Tool string
	// ProjectDir holds the function project manifest.
	ProjectDir string
	// Function is the "<package>/<function>" name used by get-url.
	Function string
	Run      Runner
	Out      io.Writer
}

// Args returns the tool arguments for command.
func (c CLI) Args(command string) ([]string, error) {
	dir := c.ProjectDir
	if dir == "" {
		dir = "."
	}
	switch strings.TrimSpace(command) {
	case "deploy":
		return []string{"serverless", "deploy", dir}, nil
	case "watch":
		return []string{"serverless", "watch", dir}, nil
	case "get-url":
		if c.Function == "" {
			return nil, errors.New("get-url: function name not set")
		}
		return []string{"serverless", "functions", "get", c.Function, "--url"}, nil
	}
	return nil, ErrUsage
}

// Execute runs command. Help and unknown commands print Usage and return
// ErrUsage so the caller can exit non-zero.
func (c CLI) Execute(ctx context.Context, command string) error {
	args, err := c.Args(command)
	if errors.Is(err, ErrUsage) {
		if c.Out != nil {
			fmt.Fprint(c.Out, Usage)
		}
		return err
	}
	if err != nil {
		return err
	}
	tool := c.Tool
	if tool == "" {
		tool = "doctl"
	}
	if err := c.Run(ctx, tool, args...); err != nil {
		return fmt.Errorf("%s %s: %w", tool, command, err)
	}
	return nil
}
