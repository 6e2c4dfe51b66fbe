// Package headless renders script-heavy pages with headless Chrome before
// content extraction. Promotion is heuristic and off by default.
package headless

import (
	"context"
	"errors"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// Renderer executes a page with JavaScript enabled and returns the DOM
// snapshot as HTML.
type Renderer interface {
	Render(ctx context.Context, rawURL string) ([]byte, error)
}

// Detector decides whether a fetched page needs a JS render pass.
type Detector interface {
	NeedsJS(html []byte) bool
}

// NoopRenderer never renders; used when headless mode is disabled.
type NoopRenderer struct{}

// Render implements Renderer.
func (NoopRenderer) Render(context.Context, string) ([]byte, error) {
	return nil, ErrRendererDisabled
}
