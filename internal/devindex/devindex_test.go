package devindex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/fetcher"
	"github.com/sells-group/muni-enrich/internal/resilience"
)

const page = `<html><body>
<table class="infobox"><tr><th>Estado</th><td>Bahia</td></tr></table>
<table class="wikitable sortable">
  <tr><th>Posição</th><th>Município</th><th>IDH-M (2010)</th><th>População</th></tr>
  <tr><td>1</td><td><a href="/wiki/Salvador">Salvador</a></td><td>0,759</td><td>2 675 656</td></tr>
  <tr><td>2</td><td>Lauro de Freitas[1]</td><td>0,754[2]</td><td>163 449</td></tr>
  <tr><td>3</td><td>Abaíra</td><td>0.603</td><td>8 316</td></tr>
  <tr><td>4</td><td>Dias d'Ávila</td><td>n/d</td><td>66 440</td></tr>
  <tr><td>5</td><td>Itapé</td><td>1,2</td><td>10 995</td></tr>
  <tr><td>6</td></tr>
</table>
</body></html>`

func v(f float64) *float64 { return &f }

func TestParseTable(t *testing.T) {
	table, err := ParseTable(strings.NewReader(page), "munic", "idh")
	require.NoError(t, err)

	assert.Len(t, table, 5)
	assert.Equal(t, v(0.759), table["salvador"])
	assert.Equal(t, v(0.754), table["lauro de freitas"], "footnotes are stripped from names and values")
	assert.Equal(t, v(0.603), table["abaira"], "dot decimal separator is accepted")

	val, ok := table.Lookup("dias d'avila")
	assert.False(t, ok, "unparseable cell is recorded as missing")
	assert.Zero(t, val)
	_, present := table["dias d'avila"]
	assert.True(t, present)

	assert.Nil(t, table["itape"], "out-of-range value is missing")
}

func TestParseTable_RowsAcrossSeveralTables(t *testing.T) {
	html := `<table><tr><th>Município</th><th>IDH</th></tr><tr><td>Abaré</td><td>0,575</td></tr></table>
<table><tr><th>Município</th><th>IDH</th></tr><tr><td>Acajutiba</td><td>0,582</td></tr><tr><td>Abaré</td><td>0,9</td></tr></table>`

	table, err := ParseTable(strings.NewReader(html), "munic", "idh")
	require.NoError(t, err)
	assert.Len(t, table, 2)
	assert.Equal(t, v(0.575), table["abare"], "first row for a name wins")
	assert.Equal(t, v(0.582), table["acajutiba"])
}

func TestParseTable_NoMatchingTable(t *testing.T) {
	_, err := ParseTable(strings.NewReader(`<table><tr><th>Nome</th><th>Valor</th></tr></table>`), "munic", "idh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table")
}

func TestParseTable_HeaderOnly(t *testing.T) {
	_, err := ParseTable(strings.NewReader(`<table><tr><th>Município</th><th>IDH-M</th></tr></table>`), "munic", "idh")
	require.Error(t, err)
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"0,759", v(0.759)},
		{" 0.5 ", v(0.5)},
		{"0,754[2]", v(0.754)},
		{"1", v(1)},
		{"0", v(0)},
		{"", nil},
		{"—", nil},
		{"-0,1", nil},
		{"1,01", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseIndex(tt.in), "ParseIndex(%q)", tt.in)
	}
}

func newTestGetter() fetcher.Getter {
	return fetcher.NewRateLimited(fetcher.HTTPOptions{
		HostRate: rate.Inf,
		Policies: map[string]resilience.Policy{
			Service: {Retry: resilience.RetryConfig{MaxAttempts: 1}},
		},
	})
}

func TestLoadTable_FetchesOnceThenServesFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	store := cache.NewFileStore(t.TempDir())
	s := NewScraper(cache.NewManager(store), newTestGetter(), WithURL(srv.URL))

	table, err := s.LoadTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, v(0.759), table["salvador"])

	// A new process reads the persisted table, missing markers included.
	s2 := NewScraper(cache.NewManager(store), newTestGetter(), WithURL(srv.URL))
	again, err := s2.LoadTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, table, again)
	assert.Equal(t, int32(1), hits.Load())
	_, present := again["dias d'avila"]
	assert.True(t, present)
}

func TestLoadTable_UnusablePageIsNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `<html><body><p>layout changed</p></body></html>`)
	}))
	defer srv.Close()

	m := cache.NewManager(cache.NewMemoryStore())
	s := NewScraper(m, newTestGetter(), WithURL(srv.URL))

	_, err := s.LoadTable(context.Background())
	require.Error(t, err)
	_, err = s.LoadTable(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 0, m.Len(context.Background(), CacheName))
}

func TestNewScraper_Defaults(t *testing.T) {
	s := NewScraper(cache.NewManager(cache.NewMemoryStore()), newTestGetter())
	assert.Equal(t, DefaultURL, s.URL())

	s = NewScraper(cache.NewManager(cache.NewMemoryStore()), newTestGetter(), WithHeaders("cidade", "indice"))
	assert.Equal(t, "cidade", s.nameHeader)
	assert.Equal(t, "indice", s.valueHeader)
}
