package link

import (
	"errors"
	"net/url"
	"strings"
)

var ErrNotURL = errors.New("not a valid url")

// DefaultDenylist подстроки, из-за которых сообщение считается ссылкой.
var DefaultDenylist = []string{"http://", "https://", "www.", "t.me/", "telegram.me/", "tg://"}

// Denylist регистронезависимый поиск запрещённых подстрок.
type Denylist struct {
	patterns []string
}

func NewDenylist(patterns []string) Denylist {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return Denylist{patterns: out}
}

// Match возвращает первую найденную подстроку.
func (d Denylist) Match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, p := range d.patterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// Normalize проверяет абсолютный http(s) URL и убирает завершающий слеш.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNotURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrNotURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrNotURL
	}
	u.Host = strings.ToLower(u.Host)
	return TrimSlash(u.String()), nil
}

func TrimSlash(s string) string {
	return strings.TrimRight(s, "/")
}

// Same сравнивает адреса без учёта завершающего слеша и регистра хоста.
func Same(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return TrimSlash(a) == TrimSlash(b)
	}
	return na == nb
}

// Resolve достраивает относительную ссылку ref от base.
// Протокол-относительные ссылки получают https.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return ""
	}
	return b.ResolveReference(r).String()
}
