package execx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Responses are matched by the
// longest registered command-line prefix.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Result
	paths     map[string]bool
	calls     []Cmd
}

// NewFakeRunner creates an empty FakeRunner. Every binary is on PATH unless
// MissingBinary is called.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Result), paths: make(map[string]bool)}
}

// On registers the result for commands starting with prefix.
func (f *FakeRunner) On(prefix string, result Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = result
	return f
}

// MissingBinary makes LookPath fail for name.
func (f *FakeRunner) MissingBinary(name string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = false
	return f
}

// LookPath reports binaries as present unless marked missing.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok, set := f.paths[name]; set && !ok {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

// Run returns the registered result with the longest matching prefix.
// Unmatched commands fail with exit code 127.
func (f *FakeRunner) Run(_ context.Context, cmd Cmd) Result {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	line := cmd.String()
	var best string
	found := false
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, found = prefix, true
		}
	}
	res := f.responses[best]
	f.mu.Unlock()

	if !found {
		return Result{Code: 127, Err: fmt.Errorf("no fake response for %q", line)}
	}
	if cmd.Stdout != nil && res.Stdout != "" {
		_, _ = io.WriteString(cmd.Stdout, res.Stdout)
	}
	if cmd.Stderr != nil && res.Stderr != "" {
		_, _ = io.WriteString(cmd.Stderr, res.Stderr)
	}
	return res
}

// Calls returns the command lines run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Failure builds a non-zero Result with stderr.
func Failure(code int, stderr string) Result {
	return Result{Code: code, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
}

// Success builds a zero Result with stdout.
func Success(stdout string) Result {
	return Result{Stdout: stdout}
}
