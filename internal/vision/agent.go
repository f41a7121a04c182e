package vision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Agent is the autonomous visual browser this executor wraps. It returns a
// free-form textual report which the executor parses.
type Agent interface {
	BrowseAndFind(ctx context.Context, task, url string, maxSteps int, headless bool) (string, error)
}

// CommandAgent shells out to an external agent binary. The command line is
// configured as argv; task parameters are appended as flags.
type CommandAgent struct {
	command []string
}

func NewCommandAgent(command []string) *CommandAgent {
	return &CommandAgent{command: command}
}

// Installed reports whether the configured binary resolves on PATH.
func (a *CommandAgent) Installed() bool {
	if len(a.command) == 0 {
		return false
	}
	_, err := exec.LookPath(a.command[0])
	return err == nil
}

func (a *CommandAgent) BrowseAndFind(ctx context.Context, task, url string, maxSteps int, headless bool) (string, error) {
	if len(a.command) == 0 {
		return "", fmt.Errorf("vision agent not configured")
	}

	args := append(append([]string{}, a.command[1:]...),
		"--task", task,
		"--url", url,
		"--max-steps", strconv.Itoa(maxSteps),
		"--headless="+strconv.FormatBool(headless),
	)

	cmd := exec.CommandContext(ctx, a.command[0], args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		// A non-zero exit still produces a report worth parsing; only a
		// failure to run at all is fatal.
		if out.Len() == 0 {
			return "", fmt.Errorf("vision agent failed: %v: %s", err, strings.TrimSpace(errOut.String()))
		}
	}
	return out.String(), nil
}
