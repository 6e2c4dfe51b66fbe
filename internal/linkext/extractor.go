// Package linkext turns raw HTML into a safe, normalized link set and
// classifies links against the crawl's base domain.
package linkext

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Schemes that must never reach the frontier.
var unsafeSchemes = map[string]struct{}{
	"javascript": {},
	"mailto":     {},
	"tel":        {},
	"data":       {},
	"file":       {},
	"ftp":        {},
}

// Non-page file extensions rejected outright.
var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".ico": {}, ".bmp": {}, ".tiff": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".bz2": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {}, ".ogg": {}, ".wav": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {}, ".atom": {},
}

// Query parameters stripped during normalization. Prefix entries match any
// parameter starting with that prefix.
var (
	trackingParams = map[string]struct{}{
		"fbclid": {}, "gclid": {}, "msclkid": {}, "ref": {}, "source": {},
		"affiliate": {}, "_ga": {}, "_gl": {}, "mc_cid": {}, "mc_eid": {},
	}
	trackingPrefixes = []string{"utm_", "session"}
)

var indexSuffixes = []string{"index.html", "index.htm", "index.php", "index.shtml"}

// Extractor normalizes anchors found in page HTML against a base domain.
type Extractor struct {
	baseDomain string
}

// New builds an Extractor for the given base domain (host without scheme).
func New(baseDomain string) *Extractor {
	return &Extractor{
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, "www.")),
	}
}

// ExtractLinks parses anchors out of the HTML, filters unsafe and non-page
// targets, normalizes, and returns each distinct URL at most once per page,
// in document order. The full list is returned, external links included;
// callers building a frontier filter through IsInternalURL and dedup across
// pages themselves, so the stored link set of a page never depends on what
// earlier pages linked to.
func (e *Extractor) ExtractLinks(html []byte, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		normalized, ok := e.normalizeCandidate(base, href)
		if !ok {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	})
	return out, nil
}

// IsInternalURL reports whether the URL's hostname equals the base domain or
// is a subdomain of it.
func (e *Extractor) IsInternalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	return host == e.baseDomain || strings.HasSuffix(host, "."+e.baseDomain)
}

// normalizeCandidate resolves and normalizes a raw href, reporting false for
// anything the frontier must not see.
func (e *Extractor) normalizeCandidate(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if scheme, _, found := strings.Cut(href, ":"); found && !strings.Contains(scheme, "/") {
		if _, unsafe := unsafeSchemes[strings.ToLower(scheme)]; unsafe {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	normalized, err := normalize(resolved)
	if err != nil {
		return "", false
	}
	if ext := strings.ToLower(path.Ext(resolved.Path)); ext != "" {
		if _, skip := skippedExtensions[ext]; skip {
			return "", false
		}
	}
	return normalized, true
}

// Normalize canonicalizes an absolute URL. It is idempotent:
// Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u)
}

func normalize(u *url.URL) (string, error) {
	u = cloneURL(u)

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	// Collapse /index.html-style suffixes to the directory.
	lowerPath := strings.ToLower(u.Path)
	for _, suffix := range indexSuffixes {
		if strings.HasSuffix(lowerPath, "/"+suffix) {
			u.Path = u.Path[:len(u.Path)-len(suffix)]
			break
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	// Drop tracking parameters, sort the rest for canonical ordering.
	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := trackingParams[lower]; ok {
		return true
	}
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func cloneURL(u *url.URL) *url.URL {
	clone := *u
	return &clone
}
