package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphload/internal/config"
	"github.com/hanpama/graphload/internal/fault"
)

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	require.Contains(t, out.String(), "COMMANDS:")

	for _, topic := range []string{"serve", "store", "check"} {
		out.Reset()
		require.NoError(t, run(context.Background(), []string{"help", topic}, &out))
		require.True(t, strings.HasPrefix(out.String(), topic+" FLAGS:"), out.String())
	}
	require.Error(t, run(context.Background(), []string{"help", "nope"}, &out))
}

func TestRun_UnknownCommand(t *testing.T) {
	require.ErrorContains(t, run(context.Background(), []string{"nope"}, new(bytes.Buffer)), "unknown command")
	require.ErrorContains(t, run(context.Background(), nil, new(bytes.Buffer)), "missing command")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSettings_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "graphload.yaml", "server:\n  addr: 127.0.0.1:7000\nlimits:\n  max_depth: 3\n  max_cost: 900\n")

	cfg, err := serveSettings().resolve([]string{
		"-config", path,
		"-limits.max-depth", "4",
		"-server.metadata-header", "X-Tenant",
		"-server.metadata-header", "X-Trace",
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	require.Equal(t, 4, cfg.Limits.MaxDepth)
	require.Equal(t, 900, cfg.Limits.MaxCost, "unset flags keep file values")
	require.Equal(t, []string{"X-Tenant", "X-Trace"}, cfg.Server.MetadataHeaders)

	_, err = serveSettings().resolve([]string{"-storage.backend", "grpc"})
	require.ErrorContains(t, err, "storage.endpoints")

	_, err = serveSettings().resolve([]string{"stray"})
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	path := writeFile(t, "q.graphql", `query Q { user(id: 1) { name } }`)
	var out bytes.Buffer
	require.NoError(t, cmdCheck([]string{"-query", path}, nil, &out))
	require.Equal(t, "cost  1 (limit 50000)\ndepth 2 (limit 10)\n", out.String())

	out.Reset()
	stdin := strings.NewReader(`query($id: ID!) { user(id: $id) { orders { items { product { name } } } } }`)
	err := cmdCheck([]string{"-query", "-", "-variables", `{"id": 1}`, "-limits.max-depth", "4"}, stdin, &out)
	require.ErrorIs(t, err, fault.ErrQueryTooExpensive)
	require.Empty(t, out.String())

	require.ErrorContains(t, cmdCheck(nil, nil, &out), "-query is required")
	require.ErrorIs(t, cmdCheck([]string{"-query", writeFile(t, "bad.graphql", "{ user( ")}, nil, &out), fault.ErrInvalidQuery)
}

func TestNewHandler_MemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Cursor.Secret = "s3cret"
	fetch, closeStore, err := storage(cfg.Storage, abstractlogger.NoopLogger)
	require.NoError(t, err)
	defer closeStore()
	h, err := newHandler(cfg, fetch, abstractlogger.NoopLogger)
	require.NoError(t, err)

	body := `{"query":"{ products(first: 2, orderBy: {field: \"price\"}) { nodes { name } endCursor hasMore } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Data struct {
			Products struct {
				Nodes     []map[string]any `json:"nodes"`
				EndCursor string           `json:"endCursor"`
				HasMore   bool             `json:"hasMore"`
			} `json:"products"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, []map[string]any{{"name": "Gel pen"}, {"name": "Marker"}}, res.Data.Products.Nodes)
	require.NotEmpty(t, res.Data.Products.EndCursor)
	require.True(t, res.Data.Products.HasMore)
}

func TestStorage(t *testing.T) {
	c := config.Default().Storage
	c.Backend = config.BackendGRPC
	c.Endpoints = []string{"127.0.0.1:1"}
	fetch, closeStore, err := storage(c, abstractlogger.NoopLogger)
	require.NoError(t, err)
	require.NotNil(t, fetch)
	closeStore()

	c.Backend = "postgres"
	_, _, err = storage(c, abstractlogger.NoopLogger)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, zl, err := newLogger(config.Log{Level: "warn", Development: true})
	require.NoError(t, err)
	require.NotNil(t, log)
	_ = zl.Sync()

	_, _, err = newLogger(config.Log{Level: "loud"})
	require.Error(t, err)
}

func TestStore_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, cmdStore(ctx, []string{"-store.addr", "127.0.0.1:0", "-log.level", "error"}))
}
