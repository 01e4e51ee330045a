package launcher

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	res, err := Default.Run(context.Background(), "", nil, 0, "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "hello" {
		t.Fatalf("Stdout = %q, want hello", res.Stdout)
	}
}

func TestRunReportsNonZeroExit(t *testing.T) {
	_, err := Default.Run(context.Background(), "", nil, 0, "false")
	if err == nil {
		t.Fatal("Run did not report failure for `false`")
	}
}

func TestRunRespectsTimeout(t *testing.T) {
	_, err := Default.Run(context.Background(), "", nil, 10*time.Millisecond, "sleep", "5")
	if err == nil {
		t.Fatal("Run did not time out")
	}
}

func TestRunAppliesPrefix(t *testing.T) {
	l := Launcher{Prefix: []string{"echo", "prefixed"}}
	res, err := l.Run(context.Background(), "", nil, 0, "ignored-arg")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "prefixed") {
		t.Fatalf("Stdout = %q, want prefix to be applied", res.Stdout)
	}
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	if _, err := Default.Run(context.Background(), "", nil, 0); err == nil {
		t.Fatal("Run accepted an empty argv")
	}
}
