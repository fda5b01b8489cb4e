package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/renodectl/internal/testutil/testlog"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func writeConfig(t *testing.T, addr string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "readings.db")
	body := fmt.Sprintf(`
[receiver]
addr = '%s'
db_path = '%s'

[firmware]
target = '%s'
interval = "10ms"
reply_timeout = "2s"
`, addr, db, addr)
	path := filepath.Join(dir, "renodectl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, db
}

func execute(ctx context.Context, args ...string) (int, string) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	code := run(ctx, cmd, args)
	return code, out.String()
}

func TestReceiveFirmwareView(t *testing.T) {
	testlog.Start(t)
	addr := freeAddr(t)
	cfgPath, _ := writeConfig(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _ := execute(ctx, "receive", "--config", cfgPath)
		done <- code
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("receiver did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if code, out := execute(context.Background(), "firmware", "--config", cfgPath, "--count", "3"); code != 0 {
		t.Fatalf("firmware exit %d:\n%s", code, out)
	}

	code, out := execute(context.Background(), "view", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("view exit %d:\n%s", code, out)
	}
	for _, want := range []string{"STM32_REAL_001", "Total records: 3", "unique devices"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view output missing %q:\n%s", want, out)
		}
	}

	code, out = execute(context.Background(), "stats", "--config", cfgPath)
	if code != 0 || !strings.Contains(out, "total records") {
		t.Fatalf("stats exit %d:\n%s", code, out)
	}
	testlog.Logf(t, "cli: %s", out)
}

func TestLaunchDryRun(t *testing.T) {
	cfgPath, _ := writeConfig(t, "127.0.0.1:8888")

	code, out := execute(context.Background(), "launch", "--config", cfgPath, "--dry-run")
	if code != 0 {
		t.Fatalf("dry run exit %d:\n%s", code, out)
	}
	for _, want := range []string{"[1/3] receiver (background)", "receive --config", "[3/3] renode (foreground): renode renode/stm32_sensor.resc"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dry run output missing %q:\n%s", want, out)
		}
	}

	code, out = execute(context.Background(), "--config", cfgPath, "--dry-run", "--manual")
	if code != 0 || !strings.Contains(out, "renode (manual)") {
		t.Fatalf("root dry run exit %d:\n%s", code, out)
	}
}

func TestViewMissingDatabase(t *testing.T) {
	cfgPath, _ := writeConfig(t, "127.0.0.1:8888")
	if code, _ := execute(context.Background(), "view", "--config", cfgPath); code != 1 {
		t.Fatalf("expected exit 1 for missing database, got %d", code)
	}
}

func TestMissingExplicitConfigFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	if code, _ := execute(context.Background(), "stats", "--config", missing); code != 1 {
		t.Fatalf("expected exit 1 for missing config, got %d", code)
	}
}
