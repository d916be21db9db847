// Package fetcher downloads and parses auction listing pages.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bcpea_notifier/internal/model"
)

const (
	maxListBody   = 32 * 1024 * 1024
	maxDetailBody = 5 * 1024 * 1024
)

// ErrBodyTooLarge is returned when a page exceeds the size accepted for its kind.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx response from the listing site.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Fetcher reads listing summaries and detail descriptions from the auction site.
type Fetcher struct {
	client        HTTPClient
	base          *url.URL
	listTimeout   time.Duration
	detailTimeout time.Duration
	listLimit     int64
	detailLimit   int64
}

// New creates a Fetcher for the site rooted at baseURL.
func New(client HTTPClient, baseURL string) (*Fetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Fetcher{
		client:        client,
		base:          base,
		listTimeout:   10 * time.Second,
		detailTimeout: 5 * time.Second,
		listLimit:     maxListBody,
		detailLimit:   maxDetailBody,
	}, nil
}

// SetTimeouts overrides the per-request timeouts for list and detail pages.
// Zero values keep the current setting.
func (f *Fetcher) SetTimeouts(list, detail time.Duration) {
	if list > 0 {
		f.listTimeout = list
	}
	if detail > 0 {
		f.detailTimeout = detail
	}
}

// PageURL returns the list page address for a category, court and page number.
// Properties ignore the page number and ask for everything at once.
func (f *Fetcher) PageURL(cat model.Category, court, page int) string {
	q := url.Values{}
	q.Set("court", strconv.Itoa(court))

	path := "/properties"
	if cat == model.CategoryVehicle {
		path = "/vehicles"
		q.Set("page", strconv.Itoa(page))
	} else {
		q.Set("perpage", "9999")
	}

	u := f.base.ResolveReference(&url.URL{Path: path})
	u.RawQuery = q.Encode()
	return u.String()
}

// Page fetches one page of listing summaries. An empty slice means there are no more results.
func (f *Fetcher) Page(ctx context.Context, cat model.Category, court, page int) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, f.listTimeout)
	defer cancel()

	pageURL := f.PageURL(cat, court, page)
	body, err := f.get(ctx, pageURL, f.listLimit)
	if err != nil {
		return nil, err
	}

	listings, err := parseListings(bytes.NewReader(body), f.base, cat)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return listings, nil
}

// Description fetches a detail page and returns its description text.
// A page without a description block yields an empty string.
func (f *Fetcher) Description(ctx context.Context, detailURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.detailTimeout)
	defer cancel()

	body, err := f.get(ctx, detailURL, f.detailLimit)
	if err != nil {
		return "", err
	}

	desc, err := parseDescription(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", detailURL, err)
	}
	return desc, nil
}

// get reads the whole response body. Bodies longer than limit fail with
// ErrBodyTooLarge instead of being cut short.
func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "BCPEANotifier/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, limit)
	}
	return body, nil
}
