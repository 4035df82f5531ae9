package extractor

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// knownHosts maps hostnames to display names for sources the model did
// not identify itself.
var knownHosts = map[string]string{
	"bbc.com":                      "BBC News",
	"bbc.co.uk":                    "BBC News",
	"cnn.com":                      "CNN",
	"reuters.com":                  "Reuters",
	"apnews.com":                   "AP News",
	"aljazeera.com":                "Al Jazeera",
	"theguardian.com":              "The Guardian",
	"nytimes.com":                  "The New York Times",
	"washingtonpost.com":           "The Washington Post",
	"france24.com":                 "France 24",
	"dw.com":                       "DW",
	"timesofindia.indiatimes.com":  "The Times of India",
	"ndtv.com":                     "NDTV",
	"thehindu.com":                 "The Hindu",
	"hindustantimes.com":           "Hindustan Times",
	"dawn.com":                     "Dawn",
	"straitstimes.com":             "The Straits Times",
	"abc.net.au":                   "ABC News",
	"lemonde.fr":                   "Le Monde",
	"elpais.com":                   "El País",
}

// sourceNameFromURL derives a source name from an article URL: the known
// host table first, then the registrable domain.
func sourceNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())

	if name, ok := knownHosts[host]; ok {
		return name
	}
	if name, ok := knownHosts[strings.TrimPrefix(host, "www.")]; ok {
		return name
	}

	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return strings.TrimPrefix(host, "www.")
}
