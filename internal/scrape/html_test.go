package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const searchPage = `<!doctype html><html><body>
<div id="main">
  <article class="post">
    <h2 class="entry-title"><a href="/inception.html" rel="bookmark">Inception (2010)</a></h2>
    <img src="/thumb1.jpg">
  </article>
  <article class="post">
    <h2 class="entry-title"><a href="https://mirror.example/inception-2.html">  Inception   2  </a></h2>
  </article>
  <article class="post">
    <h2><a href="/inception.html">Inception duplicate</a></h2>
  </article>
  <article class="post"><p>no link here</p></article>
</div>
</body></html>`

const detailPage = `<!doctype html><html><head>
<meta property="og:title" content="Inception (2010) 1080p">
<meta property="og:image" content="https://cdn.example/poster.jpg">
</head><body>
<h1>Inception</h1>
<div class="entry-content">
  <p><img src="https://cdn.example/poster.jpg"></p>
  <p><strong>🎬 Genre:</strong> Sci-Fi, Thriller</p>
  <p>📦 File Size: 2.1 GB</p>
  <p>Language - English, Hindi</p>
  <p><img data-src="/shots/1.png" src="data:image/gif;base64,R0lGOD"></p>
  <p><a href="#top">Download top</a> <a class="btn" href="/go/123">Download Now</a></p>
  <script>var Size = "ignored: 1";</script>
</div>
</body></html>`

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return root
}

func TestParseResults(t *testing.T) {
	got := parseResults(parse(t, searchPage), "https://mirror.example/?s=inception", 10)
	require.Len(t, got, 2)
	assert.Equal(t, Result{Title: "Inception (2010)", URL: "https://mirror.example/inception.html"}, got[0])
	assert.Equal(t, Result{Title: "Inception 2", URL: "https://mirror.example/inception-2.html"}, got[1])
}

func TestParseResults_Limit(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 15; i++ {
		b.WriteString(`<article><h3><a href="/m` + string(rune('a'+i)) + `">Movie</a></h3></article>`)
	}
	b.WriteString("</body></html>")

	got := parseResults(parse(t, b.String()), "https://mirror.example/", 10)
	assert.Len(t, got, 10)
}

func TestParseResults_BookmarkFallback(t *testing.T) {
	page := `<html><body><ul><li><a rel="bookmark" href="/a">A</a></li><li><a href="/b">B</a></li></ul></body></html>`
	got := parseResults(parse(t, page), "https://mirror.example/", 10)
	require.Len(t, got, 1)
	assert.Equal(t, "https://mirror.example/a", got[0].URL)
}

func TestParseDetail(t *testing.T) {
	d := parseDetail(parse(t, detailPage), "https://mirror.example/inception.html")

	assert.Equal(t, "Inception (2010) 1080p", d.Title)
	assert.Equal(t, "https://cdn.example/poster.jpg", d.Poster)
	assert.Equal(t, "https://mirror.example/shots/1.png", d.Screenshot)
	assert.Equal(t, "2.1 GB", d.Size)
	assert.Equal(t, "English, Hindi", d.Language)
	assert.Equal(t, "Sci-Fi, Thriller", d.Genre)
	assert.Equal(t, "https://mirror.example/go/123", d.DownloadLink)
}

func TestParseDetail_MissingFieldsDefault(t *testing.T) {
	d := parseDetail(parse(t, `<html><body><p>nothing useful</p></body></html>`), "https://mirror.example/x")

	assert.Equal(t, NA, d.Size)
	assert.Equal(t, NA, d.Language)
	assert.Equal(t, NA, d.Genre)
	assert.Empty(t, d.Poster)
	assert.Empty(t, d.Screenshot)
	assert.Empty(t, d.DownloadLink)
	assert.Empty(t, d.Title)
}

func TestParseDetail_HrefFallbackAndH1(t *testing.T) {
	page := `<html><body><h1> Dune </h1><article><p>Size: 900 MB</p><a href="https://files.example/download/dune">mirror 1</a></article></body></html>`
	d := parseDetail(parse(t, page), "https://mirror.example/dune")

	assert.Equal(t, "Dune", d.Title)
	assert.Equal(t, "900 MB", d.Size)
	assert.Equal(t, "https://files.example/download/dune", d.DownloadLink)
}

func TestHTMLScraper_Search(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("s")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	s := NewHTMLScraper(time.Second, "Mozilla/5.0")
	got, err := s.Search(context.Background(), srv.URL+"/", "the matrix & co", 10)
	require.NoError(t, err)

	assert.Equal(t, "the matrix & co", gotQuery)
	assert.Equal(t, "Mozilla/5.0", gotUA)
	require.Len(t, got, 2)
	assert.Equal(t, srv.URL+"/inception.html", got[0].URL)
}

func TestHTMLScraper_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTMLScraper(time.Second, "ua")
	_, err := s.FetchDetail(context.Background(), srv.URL+"/x.html")
	assert.ErrorIs(t, err, ErrBadStatus)

	_, err = s.FetchDetail(context.Background(), "relative/path")
	assert.ErrorIs(t, err, ErrBadURL)
}

func TestSearchURL(t *testing.T) {
	assert.Equal(t, "https://m.example/?s=inception+2010", SearchURL("https://m.example/", "inception 2010"))
}
