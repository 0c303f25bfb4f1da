package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kingrea/tollgate/internal/release"
)

const (
	ExecToolName     = "exec"
	APICheckToolName = "api-check"

	// maxLogBytes caps how much tool output is kept per instance; the tail
	// is what matters when a check fails.
	maxLogBytes = 1 << 20

	// waitDelay bounds how long Wait keeps copying output after the process
	// was killed.
	waitDelay = time.Second
)

// ExecTool runs the invocation's command as a subprocess. A non-zero exit is
// a failed check, not an error.
type ExecTool struct {
	ProjectDir string
}

// Check implements Tool.
func (t *ExecTool) Check(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Command) == 0 || strings.TrimSpace(inv.Command[0]) == "" {
		return Result{}, fmt.Errorf("%w: no command configured for %s", ErrToolUnavailable, inv.Template)
	}
	cmd := exec.CommandContext(ctx, inv.Command[0], inv.Command[1:]...)
	cmd.Dir = t.workingDir(inv.WorkingDir)
	cmd.Env = append(os.Environ(), inv.Env...)
	out := newTailBuffer(maxLogBytes)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	isolate(cmd)
	err := cmd.Run()
	log := out.String()
	if err == nil {
		return Result{Passed: true, Log: log}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return Result{Passed: false, Log: log}, nil
	}
	if ctx.Err() != nil {
		return Result{Log: log}, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return Result{Log: log}, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return Result{Log: log}, err
}

func (t *ExecTool) workingDir(dir string) string {
	if dir == "" {
		return t.ProjectDir
	}
	if filepath.IsAbs(dir) || t.ProjectDir == "" {
		return dir
	}
	return filepath.Join(t.ProjectDir, dir)
}

// APICheckTool runs an API-compatibility checker and reads its classification
// either from a JSON report on stdout ({"api_diff": "additive"}) or from the
// last output line of the form "api-diff: <classification>".
type APICheckTool struct {
	Exec ExecTool
}

var apiDiffLine = regexp.MustCompile(`(?i)^\s*api-diff\s*:\s*(\S+)\s*$`)

// Check implements Tool.
func (t *APICheckTool) Check(ctx context.Context, inv Invocation) (Result, error) {
	result, err := t.Exec.Check(ctx, inv)
	if err != nil {
		return result, err
	}
	diff, ok := ParseAPIDiffOutput(result.Log)
	if ok {
		result.APIDiff = diff
	}
	return result, nil
}

// apiDiffJSONPaths are the gjson paths probed when a checker prints JSON.
var apiDiffJSONPaths = []string{"api_diff", "apiDiff", "classification", "summary.api_diff"}

// ParseAPIDiffOutput extracts the classification from checker output.
func ParseAPIDiffOutput(output string) (release.APIDiff, bool) {
	if trimmed := strings.TrimSpace(output); gjson.Valid(trimmed) {
		for _, path := range apiDiffJSONPaths {
			value := gjson.Get(trimmed, path)
			if !value.Exists() {
				continue
			}
			if diff, err := release.ParseAPIDiff(value.String()); err == nil {
				return diff, true
			}
		}
	}
	var found release.APIDiff
	ok := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogBytes)
	for scanner.Scan() {
		match := apiDiffLine.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		diff, err := release.ParseAPIDiff(match[1])
		if err != nil {
			continue
		}
		found, ok = diff, true
	}
	return found, ok
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "[output truncated]\n" + b.buf.String()
	}
	return b.buf.String()
}
