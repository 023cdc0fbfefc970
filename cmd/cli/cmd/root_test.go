package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("RUNBOX_SERVER", "http://custom-host:9090")

	if got := viper.GetString("server"); got != "http://custom-host:9090" {
		t.Errorf("expected server from env var, got: %s", got)
	}
}

func TestRootCommand_ExecuteReturnsNoError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Errorf("root command should execute without error: %v", err)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"submit":                    false,
		"get [job_id]":              false,
		"list":                      false,
		"retry [job_id]":            false,
		"logs [job_id]":             false,
		"artifacts [job_id] [name]": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Use]; ok {
			want[cmd.Use] = true
		}
	}
	for use, found := range want {
		if !found {
			t.Errorf("expected subcommand %q to be registered", use)
		}
	}
}

func TestGetCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/job_missing" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":      map[string]interface{}{"code": "not_found", "message": "job job_missing not found"},
			"request_id": "req-3",
		})
	}))
	defer server.Close()

	viper.Set("server", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"get", "job_missing"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "not_found") {
		t.Errorf("expected error code in output, got: %s", stdout.String())
	}
}

func TestListCommand_PrintsJobsAndCursor(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "failed" {
			t.Errorf("expected status filter, got: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"job_id": "job_01A", "status": "failed", "command": "false", "created_at": "2026-01-02T03:04:05.000Z"},
			},
			"next_cursor": "cursor-xyz",
		})
	}))
	defer server.Close()

	viper.Set("server", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"list", "--status", "failed"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "job_01A") {
		t.Errorf("expected job id in output, got: %s", output)
	}
	if !strings.Contains(output, "cursor-xyz") {
		t.Errorf("expected next cursor in output, got: %s", output)
	}
}
