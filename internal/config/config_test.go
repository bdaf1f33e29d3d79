package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/guard"
	"github.com/hanpama/graphload/internal/query"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestParse_OverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
server:
  addr: 127.0.0.1:9000
  timeout: 2s
limits:
  max_depth: 5
  max_cost: 1000
cursor:
  secret: s3cret
storage:
  backend: grpc
  endpoints: [store-1:9090, store-2:9090]
  rpc_timeout: 500ms
log:
  level: debug
`))
	require.NoError(t, err)

	want := Default()
	want.Server.Addr = "127.0.0.1:9000"
	want.Server.Timeout = 2 * time.Second
	want.Limits.MaxDepth = 5
	want.Limits.MaxCost = 1000
	want.Cursor.Secret = "s3cret"
	want.Storage.Backend = BackendGRPC
	want.Storage.Endpoints = []string{"store-1:9090", "store-2:9090"}
	want.Storage.RPCTimeout = 500 * time.Millisecond
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, guard.Limits{MaxDepth: 5, MaxCost: 1000, MaxSelections: 5000}, c.GuardLimits())
	require.Equal(t, query.Limits{MaxPageSize: 100, DefaultPageSize: 20, MaxBatchRows: 10000}, c.QueryLimits())
}

func TestParse_Rejects(t *testing.T) {
	for name, src := range map[string]string{
		"unknown key":         "server:\n  adr: :80\n",
		"grpc without target": "storage:\n  backend: grpc\n",
		"unknown backend":     "storage:\n  backend: postgres\n",
		"default above max":   "limits:\n  max_page_size: 10\n  default_page_size: 50\n",
		"negative depth":      "limits:\n  max_depth: -1\n",
		"negative batch ops":  "server:\n  max_batch_operations: -1\n",
		"zero ticks":          "limits:\n  max_ticks: 0\n",
		"bad log level":       "log:\n  level: loud\n",
		"malformed duration":  "server:\n  timeout: soon\n",
		"not a mapping":       "- a\n- b\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			require.Error(t, err)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Limits.MaxBatchKeys = 0
	c.Log.Level = "loud"
	err := c.Validate()
	require.ErrorContains(t, err, "max_batch_keys")
	require.ErrorContains(t, err, "log.level")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  pretty: true\n"), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	require.True(t, c.Server.Pretty)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
