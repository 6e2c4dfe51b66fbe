// Package content owns the canonical, hashed representation of a page's
// SEO-relevant content.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seolens/crawler/internal/crawl"
)

// Normalized is the persisted form of one crawled page.
type Normalized struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	MetaDescription string          `json:"meta_description"`
	Headings        []crawl.Heading `json:"headings"`
	InternalLinks   []string        `json:"internal_links"`
	ExternalLinks   []string        `json:"external_links"`
	Images          []crawl.Image   `json:"images"`
	StructuredData  []string        `json:"structured_data"`
	ContentHash     string          `json:"content_hash"`
	BlobURI         string          `json:"blob_uri,omitempty"`
	CrawlJobID      uuid.UUID       `json:"crawl_job_id"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// Store persists normalized page content keyed by (project, url). Writing
// here is the durability boundary the crawl integrity invariant depends on.
type Store interface {
	StoreContent(ctx context.Context, rec Normalized) (Normalized, error)
	GetByURL(ctx context.Context, projectID uuid.UUID, url string) (Normalized, error)
	CountForJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

// Normalize converts raw page data into the canonical record, splitting
// links into internal and external relative to the base domain.
func Normalize(projectID, jobID uuid.UUID, page crawl.PageData, baseDomain string, fetchedAt time.Time) Normalized {
	rec := Normalized{
		ID:              uuid.New(),
		ProjectID:       projectID,
		URL:             page.URL,
		Title:           page.Title,
		MetaDescription: page.MetaDescription,
		Headings:        page.Headings,
		Images:          page.Images,
		StructuredData:  page.StructuredData,
		CrawlJobID:      jobID,
		FetchedAt:       fetchedAt,
	}
	base := strings.ToLower(strings.TrimPrefix(baseDomain, "www."))
	for _, link := range page.Links {
		if isInternal(link, base) {
			rec.InternalLinks = append(rec.InternalLinks, link)
		} else {
			rec.ExternalLinks = append(rec.ExternalLinks, link)
		}
	}
	rec.ContentHash = HashFields(rec)
	return rec
}

// HashFields computes the canonical SHA-256 digest over the SEO-relevant
// fields. Link order is preserved, so the hash is stable for identical
// content.
func HashFields(rec Normalized) string {
	var b strings.Builder
	b.WriteString(rec.URL)
	b.WriteByte('\n')
	b.WriteString(rec.Title)
	b.WriteByte('\n')
	b.WriteString(rec.MetaDescription)
	b.WriteByte('\n')
	for _, h := range rec.Headings {
		fmt.Fprintf(&b, "h%d:%s\n", h.Level, h.Text)
	}
	for _, l := range rec.InternalLinks {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	for _, l := range rec.ExternalLinks {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	for _, img := range rec.Images {
		b.WriteString(img.Src)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func isInternal(link, baseDomain string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	return host == baseDomain || strings.HasSuffix(host, "."+baseDomain)
}
