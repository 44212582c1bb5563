package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/config"
	"github.com/JakeFAU/progress-tracker/internal/server"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

// useTestApp swaps the factory for one with an isolated registry. Tests that
// call it must not run in parallel.
func useTestApp(t *testing.T) {
	t.Helper()
	prev := buildApp
	buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		return server.Build(ctx, cfg, server.Options{
			Logger:     zap.NewNop(),
			Registerer: prometheus.NewRegistry(),
		})
	}
	t.Cleanup(func() { buildApp = prev })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsCommandPrintsJSON(t *testing.T) {
	useTestApp(t)
	path := writeConfig(t, "janitor:\n  enabled: false\n")

	out, err := runCmd(t, "stats", "--config", path)
	require.NoError(t, err)

	var stats tracker.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Zero(t, stats.Total)
}

func TestCleanupCommandPrintsResult(t *testing.T) {
	useTestApp(t)
	path := writeConfig(t, "notify:\n  backend: none\n")

	out, err := runCmd(t, "cleanup", "--config", path)
	require.NoError(t, err)

	var res tracker.CleanupResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Zero(t, res.Deleted)
}

func TestInvalidConfigFails(t *testing.T) {
	useTestApp(t)
	path := writeConfig(t, "store:\n  backend: cassandra\n")

	_, err := runCmd(t, "stats", "--config", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
