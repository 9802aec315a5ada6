package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"moviebot/internal/link"

	"golang.org/x/net/html"
)

const (
	maxBodyBytes  = 2 << 20
	maxFieldRunes = 100
)

// HTMLScraper разбирает WordPress-подобную разметку зеркала.
type HTMLScraper struct {
	hc        *http.Client
	userAgent string
	timeout   time.Duration
}

var _ Scraper = (*HTMLScraper)(nil)

func NewHTMLScraper(timeout time.Duration, userAgent string) *HTMLScraper {
	return &HTMLScraper{
		hc:        &http.Client{Timeout: timeout},
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// SearchURL адрес страницы поиска на зеркале.
func SearchURL(baseURL, query string) string {
	return link.TrimSlash(baseURL) + "/?s=" + url.QueryEscape(query)
}

func (s *HTMLScraper) Search(ctx context.Context, baseURL, query string, limit int) ([]Result, error) {
	pageURL := SearchURL(baseURL, query)
	root, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseResults(root, pageURL, limit), nil
}

func (s *HTMLScraper) FetchDetail(ctx context.Context, pageURL string) (Detail, error) {
	root, err := s.fetch(ctx, pageURL)
	if err != nil {
		return Detail{}, err
	}
	return parseDetail(root, pageURL), nil
}

func (s *HTMLScraper) fetch(ctx context.Context, pageURL string) (*html.Node, error) {
	if _, err := link.Normalize(pageURL); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, pageURL)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return html.Parse(bytes.NewReader(body))
}

// --- выдача поиска ---

func parseResults(root *html.Node, pageURL string, limit int) []Result {
	var out []Result
	seen := make(map[string]struct{})
	add := func(a *html.Node) {
		if a == nil || len(out) >= limit {
			return
		}
		href := link.Resolve(pageURL, attr(a, "href"))
		title := textContent(a)
		if title == "" {
			title = strings.TrimSpace(attr(a, "title"))
		}
		if href == "" || title == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		out = append(out, Result{Title: title, URL: href})
	}

	articles := findAll(root, func(n *html.Node) bool { return isElement(n, "article") })
	for _, art := range articles {
		add(headingLink(art))
	}
	if len(articles) == 0 {
		for _, a := range findAll(root, isBookmark) {
			add(a)
		}
	}
	return out
}

// headingLink ссылка из заголовка карточки, иначе a[rel=bookmark].
func headingLink(art *html.Node) *html.Node {
	for _, h := range findAll(art, func(n *html.Node) bool {
		return isElement(n, "h1") || isElement(n, "h2") || isElement(n, "h3")
	}) {
		if a := findFirst(h, hasHref); a != nil {
			return a
		}
	}
	return findFirst(art, isBookmark)
}

func isBookmark(n *html.Node) bool {
	return hasHref(n) && containsField(attr(n, "rel"), "bookmark")
}

// --- страница релиза ---

var (
	reSize     = labelRe(`(?:file\s*)?size`)
	reLanguage = labelRe(`languages?|audio`)
	reGenre    = labelRe(`genres?`)
)

// labelRe строка вида "Size: 1.4 GB", допускает эмодзи и маркеры в начале.
func labelRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^[^\p{L}\p{N}]*(?:` + label + `)\s*[:：\-–]+\s*(.+?)\s*$`)
}

func parseDetail(root *html.Node, pageURL string) Detail {
	d := Detail{Size: NA, Language: NA, Genre: NA}

	d.Title = metaContent(root, "og:title")
	if d.Title == "" {
		if h1 := findFirst(root, func(n *html.Node) bool { return isElement(n, "h1") }); h1 != nil {
			d.Title = textContent(h1)
		}
	}

	content := contentRoot(root)
	images := contentImages(content, pageURL)

	d.Poster = link.Resolve(pageURL, metaContent(root, "og:image"))
	for _, img := range images {
		if d.Poster == "" {
			d.Poster = img
			continue
		}
		if img != d.Poster {
			d.Screenshot = img
			break
		}
	}

	for _, line := range textLines(content) {
		matchField(&d.Size, reSize, line)
		matchField(&d.Language, reLanguage, line)
		matchField(&d.Genre, reGenre, line)
	}

	d.DownloadLink = downloadLink(content, pageURL)
	return d
}

func matchField(dst *string, re *regexp.Regexp, line string) {
	if *dst != NA {
		return
	}
	m := re.FindStringSubmatch(line)
	if len(m) != 2 || m[1] == "" {
		return
	}
	*dst = truncate(m[1], maxFieldRunes)
}

func contentRoot(root *html.Node) *html.Node {
	for _, class := range []string{"entry-content", "post-content", "post-body", "single-content"} {
		if n := findFirst(root, func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, class) }); n != nil {
			return n
		}
	}
	if n := findFirst(root, func(n *html.Node) bool { return isElement(n, "article") }); n != nil {
		return n
	}
	return root
}

func contentImages(content *html.Node, pageURL string) []string {
	var out []string
	for _, img := range findAll(content, func(n *html.Node) bool { return isElement(n, "img") }) {
		src := attr(img, "data-src")
		if src == "" {
			src = attr(img, "src")
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}
		if abs := link.Resolve(pageURL, src); abs != "" {
			out = append(out, abs)
		}
	}
	return out
}

func downloadLink(content *html.Node, pageURL string) string {
	anchors := findAll(content, hasHref)
	usable := func(a *html.Node) string {
		href := strings.TrimSpace(attr(a, "href"))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return ""
		}
		return link.Resolve(pageURL, href)
	}

	for _, a := range anchors {
		text := strings.ToLower(textContent(a) + " " + attr(a, "class"))
		if strings.Contains(text, "download") {
			if href := usable(a); href != "" {
				return href
			}
		}
	}
	for _, a := range anchors {
		if strings.Contains(strings.ToLower(attr(a, "href")), "download") {
			if href := usable(a); href != "" {
				return href
			}
		}
	}
	return ""
}

func metaContent(root *html.Node, property string) string {
	m := findFirst(root, func(n *html.Node) bool {
		return isElement(n, "meta") && (attr(n, "property") == property || attr(n, "name") == property)
	})
	if m == nil {
		return ""
	}
	return strings.TrimSpace(attr(m, "content"))
}

// --- обход DOM ---

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "ul": true, "ol": true, "table": true, "blockquote": true,
}

// textLines текст узла, разбитый на строки по блочным элементам.
func textLines(n *html.Node) []string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.ElementNode && (x.Data == "script" || x.Data == "style") {
			return
		}
		block := x.Type == html.ElementNode && blockElements[x.Data]
		if block {
			b.WriteByte('\n')
		}
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(n)

	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if match(x) {
			out = append(out, x)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func hasHref(n *html.Node) bool {
	return isElement(n, "a") && strings.TrimSpace(attr(n, "href")) != ""
}

func hasClass(n *html.Node, want string) bool {
	return containsField(attr(n, "class"), want)
}

func containsField(list, want string) bool {
	for _, part := range strings.Fields(list) {
		if strings.EqualFold(part, want) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
