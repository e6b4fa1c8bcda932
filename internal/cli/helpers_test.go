package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/changefeed/internal/store"
)

// newTestOptions returns root options pointing at a fresh database.
func newTestOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "changefeed.db"),
	}
}

// execute runs a subcommand built by newCmd and returns its stdout.
func execute(t *testing.T, newCmd func(*RootOptions) *cobra.Command, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustExecute is execute that fails the test on error.
func mustExecute(t *testing.T, newCmd func(*RootOptions) *cobra.Command, opts *RootOptions, args ...string) string {
	t.Helper()
	out, err := execute(t, newCmd, opts, args...)
	require.NoError(t, err, "output: %s", out)
	return out
}

// openStore opens the database the options point at.
func openStore(t *testing.T, opts *RootOptions) *store.Store {
	t.Helper()
	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

const (
	aggA = "6f1c2d9e-8a47-4b7e-9f0a-2c3d4e5f6a7b"
	aggB = "0b9e8f7d-6c5b-4a39-8827-161514131211"
)

// decodeData unmarshals the data payload of a JSON CLI response.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
