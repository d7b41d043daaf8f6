package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ahttp "github.com/kasuboski/amnis/pkg/http"
	"github.com/kasuboski/amnis/pkg/logger"
)

// SearchClient reads the pack search page served next to the sources.
type SearchClient struct {
	http    ahttp.HTTPClient
	baseURL string
}

func NewSearchClient(http ahttp.HTTPClient, baseURL string) (*SearchClient, error) {
	if http == nil {
		return nil, fmt.Errorf("http client is nil")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("catalog url %q needs a scheme and host", baseURL)
	}

	return &SearchClient{
		http:    http,
		baseURL: baseURL,
	}, nil
}

// Query lists the packs of source whose names contain term. An empty source
// or term widens the search the same way the page does.
func (c *SearchClient) Query(ctx context.Context, term, source string) ([]Offer, error) {
	log := logger.FromCtx(ctx, "source", source, "term", term)

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("nick", source)
	q.Set("t", term)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	log.Debugw("querying catalog", "url", u.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code not ok: %s", ErrTransient, resp.Status)
	}

	offers, err := ParseListing(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read listing: %w", ErrTransient, err)
	}

	log.Debugw("catalog listing", "offers", len(offers))
	return offers, nil
}
