package headless

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HeuristicDetector flags pages whose initial HTML looks like an app shell:
// tiny bodies, SPA framework markers, or missing content selectors.
type HeuristicDetector struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewHeuristicDetector constructs a Detector with the given thresholds.
func NewHeuristicDetector(minBytes int, selectors, keywords []string) *HeuristicDetector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &HeuristicDetector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowerKeywords,
	}
}

// DefaultDetector covers the common SPA frameworks.
func DefaultDetector(minBytes int) *HeuristicDetector {
	return NewHeuristicDetector(minBytes,
		nil,
		[]string{`id="__next"`, `id="root"`, "ng-version", "data-reactroot"},
	)
}

// NeedsJS implements Detector.
func (d *HeuristicDetector) NeedsJS(html []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(html):
		return true
	case d.containsKeywords(html):
		return true
	default:
		return d.missingSelectors(html)
	}
}

func (d *HeuristicDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *HeuristicDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
