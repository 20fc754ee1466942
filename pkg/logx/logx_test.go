package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// captureOutput routes log output to a buffer for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	t.Cleanup(func() {
		logWriterLock.Lock()
		logWriter = nil
		logWriterLock.Unlock()
	})
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("queue").Info("picked %s", "task-1")

	out := buf.String()
	for _, want := range []string{"[queue]", "INFO", "picked task-1", "Z]"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestDebugRespectsDomains(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true, "executor")
	t.Cleanup(func() { SetDebug(false) })

	ctx := WithComponent(context.Background(), "test")
	Debug(ctx, "executor", "round %d", 2)
	Debug(ctx, "queue", "hidden")

	out := buf.String()
	if !strings.Contains(out, "[executor] round 2") {
		t.Errorf("expected executor debug line, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("queue domain should be filtered, got %q", out)
	}
}

func TestDebugDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(false)

	NewLogger("x").Debug("nope")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestRecentEntriesFiltersComponent(t *testing.T) {
	captureOutput(t)
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("recent-a").Warn("one")
	NewLogger("recent-b").Error("two")

	got := RecentEntries("recent-a", start)
	if len(got) != 1 || got[0].Message != "one" || got[0].Level != "WARN" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestWrap(t *testing.T) {
	captureOutput(t)
	if Wrap(nil, "noop") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	base := errors.New("boom")
	err := Wrap(base, "open store")
	if !errors.Is(err, base) {
		t.Errorf("expected wrapped error to match base")
	}
	if err.Error() != "open store: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestInitializeLogFilePrunes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"missioncontrol-20200101-000000.log", "missioncontrol-20200102-000000.log", "missioncontrol-20200103-000000.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := InitializeLogFile(dir, 2, false); err != nil {
		t.Fatalf("InitializeLogFile: %v", err)
	}
	NewLogger("file").Info("to disk")
	if err := CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log files after prune, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "missioncontrol-20200101-000000.log")); !os.IsNotExist(err) {
		t.Errorf("oldest log should have been pruned")
	}
}
