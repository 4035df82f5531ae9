// Package scrapers turns configured news sources into article content:
// rate-limited fetching, selector-driven extraction, and per-source
// scrape coordination.
package scrapers

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

const (
	UserAgentWinChrome     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0 Safari/537.36"
	UserAgentWinFirefox    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0"
	UserAgentMacChrome     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0 Safari/537.36"
	UserAgentMacFirefox    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7; rv:120.0) Gecko/20100101 Firefox/120.0"
	UserAgentAndroidChrome = "Mozilla/5.0 (Linux; Android 10; Pixel 3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0 Mobile Safari/537.36"
	UserAgentiOSSafari     = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1"
)

var UserAgents = []string{
	UserAgentWinChrome,
	UserAgentWinFirefox,
	UserAgentMacChrome,
	UserAgentMacFirefox,
	UserAgentAndroidChrome,
	UserAgentiOSSafari,
}

// DefaultUserAgent is browser-like on purpose: several sources block
// bot-identifying agents outright.
var DefaultUserAgent = UserAgentWinChrome

var DefaultHeaders = map[string]string{
	"Accept-Language": "en-US,en;q=0.9",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Connection":      "keep-alive",
	"Referer":         "https://google.com/",
	"Cache-Control":   "no-cache",
}

var (
	ErrPageHasNoContent = errors.New("page has no content")
	ErrArticleRejected  = errors.New("article rejected")
)

// URLSet tracks canonical URLs already handled within one search session.
type URLSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add canonicalizes u and records it, reporting whether it was new.
func (s *URLSet) Add(u string) bool {
	key := CanonicalURL(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *URLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// CanonicalURL strips fragments and trailing slashes and lowercases the
// host so the same article is never processed twice per session.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
