package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// buildBinary compiles ratekeeper and copies it outside the repo.
func buildBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	binaryPath := filepath.Join(t.TempDir(), "ratekeeper")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/ratekeeper")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}

	data, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("read built binary: %v", err)
	}
	copied := filepath.Join(t.TempDir(), "ratekeeper")
	if err := os.WriteFile(copied, data, 0o755); err != nil {
		t.Fatalf("write copied binary: %v", err)
	}
	return copied
}

func isolatedEnv(t *testing.T) []string {
	t.Helper()
	home := t.TempDir()
	return append(os.Environ(),
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, "config"),
		"XDG_DATA_HOME="+filepath.Join(home, "data"),
	)
}

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	binary := buildBinary(t)
	outside := filepath.Dir(binary)

	for _, args := range [][]string{{"version"}, {"--help"}, {"rate-limit", "buckets"}} {
		c := exec.Command(binary, args...)
		c.Dir = outside
		c.Env = isolatedEnv(t)
		if out, err := c.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %v\n%s", args, err, string(out))
		}
	}
}

func TestStandaloneBinarySimulate(t *testing.T) {
	binary := buildBinary(t)

	c := exec.Command(binary, "rate-limit", "simulate",
		"--bucket", "upload", "--limit", "3", "--window", "10s",
		"--count", "4", "--interval", "1ms", "--output-format", "json")
	c.Dir = filepath.Dir(binary)
	c.Env = isolatedEnv(t)
	out, err := c.Output()
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, string(out))
	}

	var sim struct {
		Steps []struct {
			Allowed      bool  `json:"allowed"`
			Remaining    int   `json:"remaining"`
			RetryAfterMs int64 `json:"retry_after_ms"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(out, &sim); err != nil {
		t.Fatalf("decode simulate output: %v\n%s", err, string(out))
	}
	if len(sim.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(sim.Steps))
	}
	last := sim.Steps[3]
	if last.Allowed || last.RetryAfterMs != 9997 {
		t.Fatalf("expected denial with 9997ms retry, got %+v", last)
	}
}
