package signbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/spider"
	"github.com/findsign/searchspider/internal/task"
)

const dictionaryPage = `<html><body>
<div class="alphablock"><ul>
<li><a href="/dictionary/search/?query=a">A</a></li>
<li><a href="/dictionary/search/?query=b">B</a></li>
</ul></div>
</body></html>`

const searchPage = `<html><body>
<table class="table">
<tr><td><a href="/dictionary/words/hello-1.html">hello</a></td></tr>
<tr><td><a href="/dictionary/words/help-1.html">help</a></td></tr>
</table>
<nav aria-label="Page navigation"><ul class="pagination">
<li><a href="?query=a&amp;page=2">2</a></li>
</ul></nav>
</body></html>`

const definitionPage = `<html><body>
<div id="keywords">
	Keywords: hello, hi,
	greeting
</div>
<div id="states"><img src="/static/img/maps/australia-wide.png"></div>
<video><source src="/media/hello.mp4"><source src="/media/hello-Definition.mp4"></video>
<div class="definition-panel">
  <h3 class="panel-title">As a Noun</h3>
  <div class="definition-entry"><div> A greeting used on meeting someone. </div></div>
</div>
<a class="btn" href="/dictionary/words/hello-2.html?next=true">Next</a>
</body></html>`

func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(body))
		})
	}
	serve("/dictionary/", dictionaryPage)
	serve("/dictionary/search/", searchPage)
	serve("/dictionary/words/hello-1.html", definitionPage)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSpider(t *testing.T, domain string, options map[string]any) *Spider {
	t.Helper()
	sp, err := New("auslan", config.SourceConfig{
		Spider:         TypeTag,
		Domain:         domain,
		TimeoutSeconds: 5,
		Options:        options,
	}, nil)
	require.NoError(t, err)
	return sp.(*Spider)
}

func TestRootTaskEmitsAlphabetSearches(t *testing.T) {
	srv := fixtureServer(t)
	sp := newSpider(t, srv.URL, nil)

	result, err := sp.Index(context.Background(), task.Task{})
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.Len(t, result.Tasks, 2)
	require.Equal(t, "search", result.Tasks[0].Type)
	require.Equal(t, srv.URL+"/dictionary/search/?query=a", result.Tasks[0].Args[0])
}

func TestSearchTaskEmitsDefinitionsAndPagination(t *testing.T) {
	srv := fixtureServer(t)
	sp := newSpider(t, srv.URL, nil)

	result, err := sp.Index(context.Background(),
		task.New("search", srv.URL+"/dictionary/search/?query=a"))
	require.NoError(t, err)

	var definitions, searches int
	for _, next := range result.Tasks {
		switch next.Type {
		case "definition":
			definitions++
		case "search":
			searches++
		}
	}
	require.Equal(t, 2, definitions)
	require.Equal(t, 1, searches, "pagination link becomes another search task")
}

func TestDefinitionTaskBuildsEntry(t *testing.T) {
	srv := fixtureServer(t)
	sp := newSpider(t, srv.URL, map[string]any{
		"regions": map[string]any{
			"/static/img/maps/australia-wide.png": []any{"everywhere"},
		},
	})

	pageURL := srv.URL + "/dictionary/words/hello-1.html"
	result, err := sp.Index(context.Background(), task.New("definition", pageURL))
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	require.Equal(t, []string{"hello", "hi", "greeting"}, entry.Words)
	require.Equal(t, []string{"everywhere"}, entry.Tags)
	require.Equal(t, pageURL, entry.Link)
	require.Equal(t, "As a Noun: A greeting used on meeting someone.", entry.Body)
	require.Len(t, entry.Media, 1, "the Definition diagram video is filtered out")
	require.Equal(t, srv.URL+"/media/hello.mp4", entry.Media[0].URL)

	require.Len(t, result.Tasks, 1)
	require.Equal(t, "definition", result.Tasks[0].Type)
	require.Equal(t, srv.URL+"/dictionary/words/hello-2.html", result.Tasks[0].Args[0],
		"neighbour links are discovered with query strings stripped")
}

func TestUnknownTaskErrors(t *testing.T) {
	srv := fixtureServer(t)
	sp := newSpider(t, srv.URL, nil)

	_, err := sp.Index(context.Background(), task.New("instagram", "https://example.org"))
	require.ErrorIs(t, err, spider.ErrUnknownTask)
}

func TestNewRejectsMissingDomain(t *testing.T) {
	_, err := New("auslan", config.SourceConfig{Spider: TypeTag}, nil)
	require.Error(t, err)
}

func TestNewRejectsMalformedRegions(t *testing.T) {
	_, err := New("auslan", config.SourceConfig{
		Spider:  TypeTag,
		Domain:  "https://example.org",
		Options: map[string]any{"regions": "not a map"},
	}, nil)
	require.Error(t, err)
}

func TestFetchDownloadsVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media/hello.mp4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("video bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sp := newSpider(t, srv.URL, nil)
	dest := filepath.Join(t.TempDir(), "hello.mp4")
	err := sp.Fetch(context.Background(), spider.MediaSpec{URL: srv.URL + "/media/hello.mp4"}, dest)
	require.NoError(t, err)

	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "video bytes", string(body))
}

func TestFetchRemovesPartialFileOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write([]byte("truncated"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	sp := newSpider(t, srv.URL, nil)
	dest := filepath.Join(t.TempDir(), "broken.mp4")
	err := sp.Fetch(context.Background(), spider.MediaSpec{URL: srv.URL + "/media/broken.mp4"}, dest)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "partial download must be removed")
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	sp, err := New("auslan", config.SourceConfig{
		Spider: TypeTag, Domain: srv.URL, TimeoutSeconds: 1,
	}, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "slow.mp4")
	start := time.Now()
	err = sp.Fetch(context.Background(), spider.MediaSpec{URL: srv.URL + "/media/slow.mp4"}, dest)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}
