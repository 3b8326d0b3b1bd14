package session

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

func TestBuildCommand(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := &Resolved{}
	r.SessionID = "s1"
	r.Cwd = strPtr("/tmp/a")

	cmd, err := svc.BuildCommand(r, LaunchOptions{})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Path != "claude" {
		t.Errorf("path = %q", cmd.Path)
	}
	if want := []string{"--resume", "s1"}; !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.Dir != "/tmp/a" {
		t.Errorf("dir = %q", cmd.Dir)
	}
}

func TestBuildCommandOptions(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := &Resolved{}
	r.SessionID = "s1"

	cmd, err := svc.BuildCommand(r, LaunchOptions{
		SkipPermissions: true,
		Prompt:          "continue where we left off",
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	want := []string{
		"--resume", "s1",
		"--dangerously-skip-permissions",
		"continue where we left off",
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.Dir != "" {
		t.Errorf("dir = %q, want empty for cwd-less session", cmd.Dir)
	}
}

func TestBuildCommandEnvOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	t.Setenv(assistantEnv, `mycli --flag "quoted value"`)

	r := &Resolved{}
	r.SessionID = "s1"
	cmd, err := svc.BuildCommand(r, LaunchOptions{})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Path != "mycli" {
		t.Errorf("path = %q, want mycli", cmd.Path)
	}
	want := []string{"--flag", "quoted value", "--resume", "s1"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestBuildCommandBadOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	t.Setenv(assistantEnv, `unterminated "quote`)

	r := &Resolved{}
	r.SessionID = "s1"
	if _, err := svc.BuildCommand(r, LaunchOptions{}); err == nil {
		t.Fatal("expected parse error for bad override")
	}
}

func TestLaunchDryRun(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := &Resolved{}
	r.SessionID = "s1"

	cmd, code, err := svc.Launch(
		context.Background(), r, LaunchOptions{DryRun: true},
	)
	if err != nil {
		t.Fatalf("Launch dry run: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d", code)
	}
	if got := cmd.String(); got != "claude --resume s1" {
		t.Errorf("command = %q", got)
	}
}

func TestLaunchChildKeepsDefaultSigintDisposition(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc/self/status")
	}
	svc, _, _ := newTestService(t)
	out := filepath.Join(t.TempDir(), "status")
	t.Setenv(assistantEnv,
		`sh -c 'grep SigIgn /proc/self/status > `+out+`'`)

	r := &Resolved{}
	r.SessionID = "s1"
	_, code, err := svc.Launch(context.Background(), r, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading child status: %v", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		t.Fatalf("status line = %q", data)
	}
	mask, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		t.Fatalf("parsing mask %q: %v", fields[1], err)
	}
	// Bit 2 is SIGINT. The child must not start with it ignored.
	if mask&0x2 != 0 {
		t.Errorf("child SigIgn = %s, SIGINT bit set", fields[1])
	}
}
