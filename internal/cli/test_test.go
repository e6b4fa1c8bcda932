package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

const passingScenario = `name: single_event
description: "One staged event becomes visible after promotion"
events:
  a: { aggregate: 1 }
steps:
  - stage: { event: a }
    expect: { inserted: true }
  - promote: { limit: 10 }
    expect: { promoted: 1 }
  - read: { page_size: 10, cursor: start }
    expect: { events: [a] }
assertions:
  - type: feed_count
    count: 1
`

const failingScenario = `name: wrong_count
description: "Expects more promotions than were staged"
events:
  a: { aggregate: 1 }
steps:
  - stage: { event: a }
  - promote: { limit: 10 }
    expect: { promoted: 2 }
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	_, err := execute(t, NewTestCommand, newTestOptions(t, "text"), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_EmptyDirectory(t *testing.T) {
	out := mustExecute(t, NewTestCommand, newTestOptions(t, "text"), t.TempDir())
	assert.Equal(t, "No scenarios found.\n", out)

	out = mustExecute(t, NewTestCommand, newTestOptions(t, "json"), t.TempDir())
	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Scenarios)
}

func TestTestCommand_BundledScenarios(t *testing.T) {
	out := mustExecute(t, NewTestCommand, newTestOptions(t, "text"), scenariosDir)
	assert.Contains(t, out, "✓ backfill_then_live")
	assert.Contains(t, out, "✓ duplicate_delivery")
	assert.Contains(t, out, "✓ visibility_order")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out := mustExecute(t, NewTestCommand, newTestOptions(t, "json"), scenariosDir, "--filter", "visibility_*")
	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "visibility_order", res.Scenarios[0].Name)
	assert.True(t, res.Scenarios[0].Pass)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "pass.yaml", passingScenario)
	writeScenario(t, dir, "fail.yaml", failingScenario)

	out, err := execute(t, NewTestCommand, newTestOptions(t, "text"), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ single_event")
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "promoted: expected 2, got 1")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(t, NewTestCommand, newTestOptions(t, "text"), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_UpdateThenCompareGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "single.yaml", passingScenario)
	goldenPath := filepath.Join(dir, "golden", "single.golden")

	out := mustExecute(t, NewTestCommand, newTestOptions(t, "text"), dir, "--update")
	assert.Contains(t, out, "✓ single_event (golden updated)")
	require.FileExists(t, goldenPath)

	out = mustExecute(t, NewTestCommand, newTestOptions(t, "text"), dir)
	assert.Contains(t, out, "✓ single_event")

	// A stale golden file fails the run.
	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	out, err := execute(t, NewTestCommand, newTestOptions(t, "text"), dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	_, err := execute(t, NewTestCommand, newTestOptions(t, "text"), scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
