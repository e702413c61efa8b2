package netmon

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPProber issues a HEAD request against a known endpoint.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber constructs a prober for url. Timeouts come from the caller's
// context.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{url: url, client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}
