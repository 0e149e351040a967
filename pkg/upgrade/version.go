package upgrade

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/juju/errors"
)

// VersionReader reports the version a binary prints
type VersionReader interface {
	Read(ctx context.Context, binary string, args []string) (string, error)
}

// ExecVersionReader runs the binary with its version arguments
type ExecVersionReader struct {
	Timeout time.Duration
}

// NewExecVersionReader creates a reader with a 10 second timeout
func NewExecVersionReader() *ExecVersionReader {
	return &ExecVersionReader{Timeout: 10 * time.Second}
}

// Read runs binary with args and parses its output
func (r *ExecVersionReader) Read(ctx context.Context, binary string, args []string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", errors.Annotatef(err, "%s %s", binary, strings.Join(args, " "))
	}

	version := ParseVersionOutput(out.String())
	if version == "" {
		return "", errors.Errorf("%s printed no version", binary)
	}
	return version, nil
}

// ParseVersionOutput extracts the version from "version" command output.
// A "Version:" line wins (geth style); otherwise the first non-empty line
// is used.
func ParseVersionOutput(output string) string {
	first := ""
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.Index(line, "Version:"); idx >= 0 {
			return strings.TrimSpace(line[idx+len("Version:"):])
		}
		if first == "" {
			first = line
		}
	}
	return first
}
