package collyfetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
)

// extractPage parses the fetched HTML into the structured page fields and
// runs link extraction. Parse failures leave the structured fields empty
// rather than failing the page.
func (f *Fetcher) extractPage(page *crawl.PageData) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		f.logger.Warn("failed to parse page HTML",
			zap.String("url", page.URL), zap.Error(err))
		return
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.MetaDescription, _ = doc.Find(`meta[name="description"]`).First().Attr("content")
	page.MetaDescription = strings.TrimSpace(page.MetaDescription)

	for level := 1; level <= 6; level++ {
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			page.Headings = append(page.Headings, crawl.Heading{Level: level, Text: text})
		})
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.TrimSpace(src) == "" {
			return
		}
		alt, _ := s.Attr("alt")
		page.Images = append(page.Images, crawl.Image{Src: src, Alt: alt})
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		data := strings.TrimSpace(s.Text())
		if data != "" {
			page.StructuredData = append(page.StructuredData, data)
		}
	})

	// The page keeps its full link list, external targets included; the
	// frontier filters and dedups when enqueueing.
	links, err := f.extractor.ExtractLinks(page.HTML, page.URL)
	if err != nil {
		f.logger.Warn("link extraction failed",
			zap.String("url", page.URL), zap.Error(err))
		return
	}
	page.Links = links
}
