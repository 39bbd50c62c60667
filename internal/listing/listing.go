// Package listing scrapes marketing metadata from store listing pages.
// Everything here is best-effort: analysis never depends on it.
package listing

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
)

const maxListingBytes = 2 << 20

// Listing is the marketing metadata shown on a store page.
type Listing struct {
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// Fetcher retrieves listing pages over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a Fetcher; pass nil to use a default client.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the listing page for id and extracts name, description,
// and rating from its meta tags.
func (f *Fetcher) Fetch(ctx context.Context, id string, st store.Store) (*Listing, error) {
	u, err := ListingURL(id, st)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch listing: store returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	return ParsePage(string(body)), nil
}

// ListingURL builds the public listing page URL for id.
func ListingURL(id string, st store.Store) (string, error) {
	switch st {
	case store.Chrome:
		return "https://chromewebstore.google.com/detail/" + id, nil
	case store.Edge:
		return "https://microsoftedge.microsoft.com/addons/detail/" + id, nil
	default:
		return "", fmt.Errorf("%w: %q", sharedErrors.ErrUnknownStore, st)
	}
}

var (
	metaOGTitle       = regexp.MustCompile(`<meta[^>]+property="og:title"[^>]+content="([^"]*)"`)
	metaOGDescription = regexp.MustCompile(`<meta[^>]+property="og:description"[^>]+content="([^"]*)"`)
	metaDescription   = regexp.MustCompile(`<meta[^>]+name="description"[^>]+content="([^"]*)"`)
	metaRating        = regexp.MustCompile(`"ratingValue"\s*:\s*"?([0-9.]+)"?`)
	titleTag          = regexp.MustCompile(`<title>([^<]*)</title>`)
)

// ParsePage pulls listing fields out of page HTML. Missing fields stay zero.
func ParsePage(page string) *Listing {
	l := &Listing{}

	if m := metaOGTitle.FindStringSubmatch(page); m != nil {
		l.Name = cleanTitle(m[1])
	} else if m := titleTag.FindStringSubmatch(page); m != nil {
		l.Name = cleanTitle(m[1])
	}

	if m := metaOGDescription.FindStringSubmatch(page); m != nil {
		l.Description = html.UnescapeString(m[1])
	} else if m := metaDescription.FindStringSubmatch(page); m != nil {
		l.Description = html.UnescapeString(m[1])
	}

	if m := metaRating.FindStringSubmatch(page); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			l.Rating = v
		}
	}
	return l
}

func cleanTitle(s string) string {
	s = html.UnescapeString(s)
	// Store pages suffix the product name onto titles.
	for _, sep := range []string{" - Chrome Web Store", " - Microsoft Edge Addons"} {
		s = strings.TrimSuffix(s, sep)
	}
	return strings.TrimSpace(s)
}
