package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "changefeed", cmd.Use)
	assert.Contains(t, cmd.Long, "per-shard")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"stage", "promote", "backfill", "read", "status", "serve", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestRootInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--format", "xml", "--db", t.TempDir() + "/x.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootRunsSubcommand(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"status", "--db", t.TempDir() + "/x.db"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No shards.")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("CHANGEFEED_DATABASE", "/from/env.db")

	opts := &RootOptions{}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.Database)
	assert.Equal(t, "info", cfg.LogLevel)

	opts = &RootOptions{Database: "/from/flag.db", Verbose: true}
	cfg, err = opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.db", cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	opts := &RootOptions{ConfigPath: t.TempDir() + "/missing.yaml"}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecute(t *testing.T) {
	db := t.TempDir() + "/x.db"

	t.Run("success", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		code := Execute(context.Background(), []string{"status", "--db", db}, out, errOut)
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, out.String(), "No shards.")
		assert.Empty(t, errOut.String())
	})

	t.Run("text failure goes to stderr", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		code := Execute(context.Background(), []string{"read", "x", "--db", db}, out, errOut)
		assert.Equal(t, ExitCommandError, code)
		assert.Empty(t, out.String())
		assert.Equal(t, "Error: invalid shard \"x\": must be an integer\n", errOut.String())
	})

	t.Run("json failure is an envelope", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		code := Execute(context.Background(), []string{"read", "0", "--cursor", "bogus", "--format", "json", "--db", db}, out, errOut)
		assert.Equal(t, ExitCommandError, code)
		assert.Empty(t, errOut.String())

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUsage, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "invalid --cursor")
	})

	t.Run("failed scenarios are reported once", func(t *testing.T) {
		dir := t.TempDir()
		writeScenario(t, dir, "fail.yaml", failingScenario)

		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		code := Execute(context.Background(), []string{"test", dir, "--format", "json"}, out, errOut)
		assert.Equal(t, ExitFailure, code)
		assert.Empty(t, errOut.String())

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeTestFailed, resp.Error.Code)
	})
}
