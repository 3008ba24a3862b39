package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProposalTracker/internal/domain"
)

func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", "", "--data-dir", dataDir, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScheduleCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No schedules configured.")

	out, err = execute(t, dir, "schedule", "add", "--name", "Morning", "--frequency", "Weekly", "--days", "Mon,Thu", "--time", "07:30", "--protocols", "eth")
	require.NoError(t, err)
	match := regexp.MustCompile(`Created schedule (\S+) \(Morning\)`).FindStringSubmatch(out)
	require.Len(t, match, 2)
	id := match[1]

	out, err = execute(t, dir, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Morning")
	assert.Contains(t, out, "Mon,Thu")
	assert.Contains(t, out, "Upcoming:")

	out, err = execute(t, dir, "schedule", "toggle", id)
	require.NoError(t, err)
	assert.Contains(t, out, "is disabled")

	out, err = execute(t, dir, "schedule", "enable", id)
	require.NoError(t, err)
	assert.Contains(t, out, "is enabled")

	_, err = execute(t, dir, "schedule", "delete", id)
	require.NoError(t, err)

	_, err = execute(t, dir, "schedule", "disable", id)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestScheduleAddRejectsBadInput(t *testing.T) {
	_, err := execute(t, t.TempDir(), "schedule", "add", "--name", "x", "--time", "26:00")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No executions recorded.")

	records := []domain.ExecutionRecord{
		{ScheduleName: "Manual", Manual: true, Success: false, Error: "all protocols failed to fetch"},
		{ScheduleName: "Morning", Success: true, NewProposalsCount: 2, Warnings: []string{"tron: 1 proposals missing from listing: TIP-2"}},
	}
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.json"), raw, 0o644))

	out, err = execute(t, dir, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Morning")
	assert.Contains(t, out, "all protocols failed to fetch")
	assert.Contains(t, out, "TIP-2")
}

func TestRejectsUnknownProtocol(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "fetch", "dogecoin")
	assert.Error(t, err)

	_, err = execute(t, dir, "archive", "dogecoin")
	assert.Error(t, err)

	out, err := execute(t, dir, "archive", "tron")
	require.NoError(t, err)
	assert.Contains(t, out, "IMPACT")
}
