package integration

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Result captures one CLI invocation.
type Result struct {
	Stdout string // Stdout holds the report output
	Stderr string // Stderr holds log lines
	Err    error  // Err is the exit error, nil on success
}

// Field returns the value printed after name on its own stdout line.
func (r Result) Field(t *testing.T, name string) string {
	t.Helper()

	for _, line := range strings.Split(r.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == name {
			return fields[1]
		}
	}

	t.Fatalf("no %q line in output:\n%s", name, r.Stdout)
	return ""
}

// CLI runs a built sessionbench binary in an isolated working directory.
type CLI struct {
	t      *testing.T
	binary string   // binary is the built executable
	dir    string   // dir is the working directory of every invocation
	env    []string // env holds extra environment variables
}

// NewCLI builds the binary and returns a runner working in a temp directory.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping CLI integration test in short mode")
	}

	return &CLI{
		t:      t,
		binary: buildBinary(t),
		dir:    t.TempDir(),
	}
}

// Dir returns the working directory.
func (c *CLI) Dir() string { return c.dir }

// Setenv adds an environment variable to every later invocation.
func (c *CLI) Setenv(key, value string) {
	c.env = append(c.env, key+"="+value)
}

// Run executes the binary with args.
func (c *CLI) Run(args ...string) Result {
	c.t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := exec.Command(c.binary, args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// MustRun executes the binary and fails the test on a non-zero exit.
func (c *CLI) MustRun(args ...string) Result {
	c.t.Helper()

	res := c.Run(args...)
	if res.Err != nil {
		c.t.Fatalf("sessionbench %s: %v\nstderr:\n%s", strings.Join(args, " "), res.Err, res.Stderr)
	}

	return res
}

// WriteFile writes content into the working directory and returns its path.
func (c *CLI) WriteFile(name, content string) string {
	c.t.Helper()

	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		c.t.Fatalf("write %s: %v", name, err)
	}

	return path
}

// buildBinary compiles cmd/sessionbench into a temp file.
func buildBinary(t *testing.T) string {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "sessionbench")

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/sessionbench")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	return binary
}

// getProjectRoot returns the directory holding go.mod.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)
	return ""
}
