package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"enrich", "export", "cache", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "muni-enrich", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEnrichCommand_Flags(t *testing.T) {
	out := enrichCmd.Flags().Lookup("out")
	require.NotNil(t, out)
	assert.Equal(t, "", out.DefValue)

	noRoute := enrichCmd.Flags().Lookup("no-route")
	require.NotNil(t, noRoute)
	assert.Equal(t, "false", noRoute.DefValue)

	limit := enrichCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "0", limit.DefValue)
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["stats"])
	assert.True(t, names["clear"])
}

// fakeServices serves a two-municipality state on one test server.
func fakeServices(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	places := map[string][2]string{
		"Salvador": {"-12.9711", "-38.5108"},
		"Abaíra":   {"-13.2488", "-41.6619"},
		"Itapé":    {"-14.8883", "-39.4239"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ibge/29/municipios", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":2915700,"nome":"Itapé"},{"id":2900108,"nome":"Abaíra"}]`))
	})
	mux.HandleFunc("/wiki", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<table><tr><th>Município</th><th>IDH-M (2010)</th></tr>
<tr><td>Abaíra</td><td>0,603</td></tr><tr><td>Itapé</td><td>0,6</td></tr></table>`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		out := []map[string]string{}
		for name, c := range places {
			if strings.Contains(q, name) {
				out = append(out, map[string]string{"lat": c[0], "lon": c[1], "display_name": name})
				break
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/route/v1/driving/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":412000,"duration":19800}],
"waypoints":[{"name":"Avenida Sete de Setembro","location":[-38.5109,-12.9712]},{"name":"","location":[-41.662,-13.2489]}]}`))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func setupEnv(t *testing.T, srvURL string) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("MUNI_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("MUNI_STATE_EXPECTED_ENTITIES", "2")
	t.Setenv("MUNI_DIRECTORY_URL", srvURL+"/ibge/{state}/municipios")
	t.Setenv("MUNI_INDEX_URL", srvURL+"/wiki")
	t.Setenv("MUNI_GEOCODE_URL", srvURL+"/search")
	t.Setenv("MUNI_GEOCODE_MIN_INTERVAL_MS", "0")
	t.Setenv("MUNI_ROUTE_URL", srvURL)
	t.Setenv("MUNI_ROUTE_MIN_INTERVAL_MS", "0")
	t.Setenv("MUNI_HTTP_HOST_RPS", "1000")
	t.Setenv("MUNI_MONITORING_TEXTFILE", filepath.Join(dir, "muni.prom"))
	t.Setenv("MUNI_LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEnrichThenExport(t *testing.T) {
	srv, hits := fakeServices(t)
	dir := setupEnv(t, srv.URL)

	online := filepath.Join(dir, "online.csv")
	_, err := execute(t, "enrich", "--out", online)
	require.NoError(t, err)
	require.Positive(t, hits.Load())

	data, err := os.ReadFile(online)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "Abaíra,2900108,0.603,"))
	assert.Contains(t, lines[2], "Itapé,2915700,0.6,")
	assert.Contains(t, lines[2], ",412.0,5.50,Avenida Sete de Setembro,")
	assert.FileExists(t, filepath.Join(dir, "muni.prom"))

	before := hits.Load()
	offline := filepath.Join(dir, "offline.csv")
	_, err = execute(t, "export", "--out", offline)
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load(), "export never touches the network")

	exported, err := os.ReadFile(offline)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(exported))

	out, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "geocode")
	assert.Contains(t, out, "municipios")

	out, err = execute(t, "cache", "clear", "route")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared route")
	assert.NoFileExists(t, filepath.Join(dir, "cache", "route.json"))

	_, err = execute(t, "cache", "clear", "nope")
	require.Error(t, err)
}

func TestExport_RequiresCachedDirectory(t *testing.T) {
	srv, hits := fakeServices(t)
	dir := setupEnv(t, srv.URL)

	_, err := execute(t, "export", "--out", filepath.Join(dir, "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run `muni-enrich enrich` first")
	assert.Zero(t, hits.Load())
}

func TestConfigCommand_PrintsYAML(t *testing.T) {
	srv, _ := fakeServices(t)
	setupEnv(t, srv.URL)

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "state:")
	assert.Contains(t, out, "expected_entities: 2")
	assert.Contains(t, out, "breaker_threshold: 10")
}
