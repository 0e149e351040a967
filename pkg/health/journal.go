package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// LogSource returns recent log lines for a service unit
type LogSource interface {
	Recent(ctx context.Context, unit string, lines int) ([]string, error)
}

// JournalReader reads unit logs by running journalctl
type JournalReader struct {
	// Command is the journalctl binary (default: "journalctl")
	Command string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewJournalReader creates a new journal reader
func NewJournalReader() *JournalReader {
	return &JournalReader{
		Command: "journalctl",
		Timeout: 10 * time.Second,
	}
}

// WithTimeout sets the execution timeout
func (j *JournalReader) WithTimeout(timeout time.Duration) *JournalReader {
	j.Timeout = timeout
	return j
}

// Recent returns the last n lines logged by unit
func (j *JournalReader) Recent(ctx context.Context, unit string, lines int) ([]string, error) {
	execCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, j.Command,
		"-u", unit,
		"-n", strconv.Itoa(lines),
		"--no-pager",
		"-o", "cat",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := fmt.Sprintf("journalctl -u %s failed: %v", unit, err)
		if stderr.Len() > 0 {
			msg = fmt.Sprintf("%s, Stderr: %s", msg, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s", msg)
	}

	out := strings.TrimRight(stdout.String(), "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CountMatches counts lines containing any of the needles, case-insensitively
func CountMatches(lines []string, needles ...string) int {
	count := 0
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(lower, strings.ToLower(n)) {
				count++
				break
			}
		}
	}
	return count
}
