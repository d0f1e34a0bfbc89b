package elevation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type lookPathFunc func(file string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return out.Bytes(), fmt.Errorf("%s: %w", name, err)
		}
		return out.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return out.Bytes(), nil
}
