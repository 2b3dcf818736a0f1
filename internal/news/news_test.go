package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedBody(entries ...string) string {
	return `{"Type":100,"Message":"News list successfully returned","Data":[` + strings.Join(entries, ",") + `]}`
}

func entry(id int, title, body, categories string) string {
	return fmt.Sprintf(`{"id":"%d","published_on":1709251200,"imageurl":"https://img/%d.png","title":%q,"url":"https://news/%d","source":"wire","body":%q,"categories":%q}`,
		id, id, title, id, body, categories)
}

func TestCurateKeepsRelevantFirstAndTopsUp(t *testing.T) {
	feed := []Article{
		{ID: "1", Title: "Bitcoin rallies"},
		{ID: "2", Title: "SHIB burn rate jumps"},
		{ID: "3", Title: "Markets wrap", Body: "Shiba Inu led memecoins"},
		{ID: "4", Title: "Ethereum development update"},
		{ID: "5", Title: "Weekly recap", Categories: "SHIBA|MARKET"},
	}

	got := Curate(feed, 4)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"2", "3", "5", "1"}, ids(got))
}

func TestCurateDoesNotTrimRelevantArticles(t *testing.T) {
	var feed []Article
	for i := 0; i < 14; i++ {
		feed = append(feed, Article{ID: fmt.Sprint(i), Title: "shib story"})
	}
	assert.Len(t, Curate(feed, 12), 14)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindAnalysis, Classify("SHIB Price Prediction for May"))
	assert.Equal(t, KindAnalysis, Classify("Technical analysis: SHIB"))
	assert.Equal(t, KindUpdates, Classify("Shibarium network update"))
	assert.Equal(t, KindUpdates, Classify("New development on the bridge"))
	assert.Equal(t, KindNews, Classify("SHIB listed on exchange"))
}

func TestFilterAndPaginate(t *testing.T) {
	articles := Curate([]Article{
		{ID: "1", Title: "SHIB analysis", Body: "burn"},
		{ID: "2", Title: "SHIB update"},
		{ID: "3", Title: "SHIB news", Body: "Burn mechanics"},
	}, 12)

	assert.Equal(t, []string{"1"}, ids(Filter(articles, KindAnalysis, "")))
	assert.Equal(t, []string{"1", "3"}, ids(Filter(articles, "", "BURN")))
	assert.Empty(t, Filter(articles, KindUpdates, "burn"))

	var many []Article
	for i := 0; i < 13; i++ {
		many = append(many, Article{ID: fmt.Sprint(i)})
	}
	p := Paginate(many, 3, 6)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 13, p.Total)
	assert.Equal(t, []string{"12"}, ids(p.Articles))

	clamped := Paginate(many, 9, 6)
	assert.Equal(t, 3, clamped.Page)
	assert.Equal(t, 1, Paginate(nil, 2, 6).Page)
	assert.Empty(t, Paginate(nil, 1, 6).Articles)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("All")
	require.NoError(t, err)
	assert.Equal(t, Kind(""), k)

	k, err = ParseKind("analysis")
	require.NoError(t, err)
	assert.Equal(t, KindAnalysis, k)

	_, err = ParseKind("gossip")
	assert.Error(t, err)
}

func TestClientFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		query = r.URL.RawQuery
		assert.Equal(t, "/data/v2/news/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, feedBody(
			entry(1, "Bitcoin holds", "", ""),
			entry(2, "SHIB price prediction", "", ""),
		))
	}))
	t.Cleanup(srv.Close)

	now := time.Unix(1_700_000_000, 0)
	client := New(Options{BaseURL: srv.URL, APIKey: "k", CacheTTL: time.Minute}, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	got, err := client.Articles(context.Background())
	require.NoError(t, err)
	assert.Contains(t, query, "api_key=k")
	assert.Contains(t, query, "lang=EN")
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, KindAnalysis, got[0].Kind)
	assert.Equal(t, "https://img/2.png", got[0].ImageURL)
	assert.Equal(t, int64(1709251200), got[0].PublishedAt.Unix())

	_, err = client.Articles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, err = client.Articles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Response":"Error","Message":"rate limit","Data":[]}`)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Options{BaseURL: srv.URL}, zerolog.Nop()).Articles(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestClientServesStaleListOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, feedBody(entry(7, "SHIB news", "", "")))
	}))
	t.Cleanup(srv.Close)

	client := New(Options{BaseURL: srv.URL}, zerolog.Nop())
	_, err := client.Articles(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	got, err := client.Articles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids(got))
}

func ids(articles []Article) []string {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, a.ID)
	}
	return out
}
