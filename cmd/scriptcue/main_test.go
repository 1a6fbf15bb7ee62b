package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/resilience"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAlignCommand_CompletesScript(t *testing.T) {
	t.Parallel()

	script := writeFile(t, "script.txt", "hello world\ngood morning everyone\n\n")
	transcript := writeFile(t, "transcript.txt", "hello world\ngood morning everyone\n")

	out, err := runCLI(t, "align", "--script", script, "--transcript", transcript)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if !strings.Contains(out, "2/2 lines, complete") {
		t.Errorf("output missing completion footer:\n%s", out)
	}
	if strings.Count(out, "primary") != 2 {
		t.Errorf("want two primary completions:\n%s", out)
	}
}

func TestReplay_Incomplete(t *testing.T) {
	t.Parallel()

	res := replay(config.AlignmentConfig{}, []string{"alpha beta gamma", "delta epsilon"}, []string{"something unrelated"}, time.Second)
	if res.complete || len(res.advances) != 0 {
		t.Errorf("replay = %+v, want no advances", res)
	}
	var buf bytes.Buffer
	printReplay(&buf, []string{"alpha beta gamma", "delta epsilon"}, res)
	if !strings.Contains(buf.String(), "0/2 lines, incomplete") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRootCommand_MissingConfig(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "align", "--script", "x")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("error = %v, want config not found", err)
	}
}

func TestReadLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "trailing blanks dropped", in: "one\ntwo\n\n\n", want: []string{"one", "two"}},
		{name: "inner blank kept", in: "one\n\n  three  \n", want: []string{"one", "", "three"}},
		{name: "crlf", in: "one\r\ntwo\r\n", want: []string{"one", "two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := readLines(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("readLines: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("readLines = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactDSN(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"postgres://user:secret@db:5432/scriptcue": "postgres://user:xxxxx@db:5432/scriptcue",
		"sqlite:/var/lib/scriptcue.db":             "sqlite:/var/lib/scriptcue.db",
		"(in memory)":                              "(in memory)",
	}
	for in, want := range tests {
		if got := redactDSN(in); got != want {
			t.Errorf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildDialer(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := &config.Config{ASR: config.ASRConfig{Provider: "deepgram"}}
	d, err := buildDialer(cfg, reg, nil)
	if err != nil || d != nil {
		t.Errorf("missing key: dialer = %v, err = %v; want nil, nil", d, err)
	}

	cfg.ASR.APIKey = "key"
	d, err = buildDialer(cfg, reg, nil)
	if err != nil {
		t.Fatalf("buildDialer: %v", err)
	}
	rd, ok := d.(*resilience.Dialer)
	if !ok {
		t.Fatalf("dialer = %T, want *resilience.Dialer", d)
	}
	if n := len(rd.Endpoints()); n != 1 {
		t.Errorf("endpoints = %d, want 1", n)
	}

	cfg.ASR.FallbackBaseURL = "wss://backup.example.com/v1/listen"
	d, err = buildDialer(cfg, reg, nil)
	if err != nil {
		t.Fatalf("buildDialer with fallback: %v", err)
	}
	eps := d.(*resilience.Dialer).Endpoints()
	if len(eps) != 2 || eps[1].Name != "deepgram-fallback" {
		t.Errorf("endpoints = %+v", eps)
	}

	cfg.ASR.Provider = "whisper"
	if _, err := buildDialer(cfg, reg, nil); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown provider error = %v", err)
	}
}

func TestWriteTable_PlainWhenNotTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeTable(&buf, []string{"a", "b"}, [][]string{{"1", "2"}}, nil)
	if buf.String() != "a\tb\n1\t2\n" {
		t.Errorf("plain table = %q", buf.String())
	}
	if r := renderTable([]string{"Name"}, [][]string{{"x"}}, nil); !strings.Contains(r, "Name") || !strings.Contains(r, "╭") {
		t.Errorf("rendered table = %q", r)
	}
}
