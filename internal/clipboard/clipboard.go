// Package clipboard copies artifact text to the desktop clipboard through
// whichever helper binary the host provides.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("no clipboard command available")

const copyTimeout = 4 * time.Second

type helper struct {
	name string
	args []string
	// detach leaves the helper running; xclip keeps serving the selection
	// until another client takes it.
	detach bool
}

// Copier writes text to the clipboard. The zero value uses the real PATH.
type Copier struct {
	GOOS     string
	LookPath func(string) (string, error)
	Command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Copy writes text with the default Copier.
func Copy(ctx context.Context, text string) error {
	return Copier{}.Copy(ctx, text)
}

func (c Copier) Copy(ctx context.Context, text string) error {
	h, err := c.detect()
	if err != nil {
		return err
	}

	if h.detach {
		return c.copyDetached(h, text)
	}

	ctx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()
	cmd := c.command(ctx, h.name, h.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("copy to clipboard timed out: %w", ctx.Err())
		}
		return fmt.Errorf("copy to clipboard with %s: %w", h.name, err)
	}
	return nil
}

func (c Copier) detect() (helper, error) {
	goos := c.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	candidates := []helper{
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}, detach: true},
	}
	if goos == "darwin" {
		candidates = []helper{{name: "pbcopy"}}
	}
	for _, h := range candidates {
		if _, err := lookPath(h.name); err == nil {
			return h, nil
		}
	}
	return helper{}, ErrUnavailable
}

func (c Copier) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if c.Command != nil {
		return c.Command(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...)
}

func (c Copier) copyDetached(h helper, text string) error {
	cmd := c.command(context.Background(), h.name, h.args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open clipboard stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start %s: %w", h.name, err)
	}
	if _, err := io.WriteString(stdin, text); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("write clipboard data: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("close clipboard stdin: %w", err)
	}
	return cmd.Process.Release()
}
