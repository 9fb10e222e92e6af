// Package openaq talks to the upstream measurement API: sub-source
// discovery per entity and paginated measurement fetch per sub-source.
package openaq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vayuaq/vayu/internal/models"
)

// ErrEntityNotFound reports that the upstream has no such entity.
var ErrEntityNotFound = errors.New("entity not found upstream")

// FetchResult is one sub-source's contribution to a cycle.
type FetchResult struct {
	Records []models.Record
	// Malformed counts payload entries that could not be decoded into a
	// record. They are dropped, not fatal.
	Malformed int
}

// Client is the upstream contract. The HTTP implementation below is the
// production client; tests substitute scripted fakes.
type Client interface {
	DiscoverSubSources(ctx context.Context, entityID int64) ([]models.SubSource, error)
	FetchSince(ctx context.Context, subSourceID int64, since *time.Time) (FetchResult, error)
}

// HTTPClient implements Client against the REST API.
type HTTPClient struct {
	base      string
	apiKey    string
	hc        *http.Client
	pageLimit int
	pageDelay time.Duration
	log       zerolog.Logger
}

// NewHTTPClient builds a client. pageDelay is the fixed politeness pause
// between consecutive page requests of one sub-source.
func NewHTTPClient(base, apiKey string, hc *http.Client, pageLimit int, pageDelay time.Duration, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		base:      base,
		apiKey:    apiKey,
		hc:        hc,
		pageLimit: pageLimit,
		pageDelay: pageDelay,
		log:       log,
	}
}

type discoverResponse struct {
	SubSources []models.SubSource `json:"subSources"`
}

type measurementsResponse struct {
	Results []json.RawMessage `json:"results"`
}

// DiscoverSubSources lists an entity's sensors. An entity with zero
// sub-sources is a valid empty result, not an error.
func (c *HTTPClient) DiscoverSubSources(ctx context.Context, entityID int64) ([]models.SubSource, error) {
	var payload discoverResponse
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/entities/%d", c.base, entityID), nil, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("entity %d: %w", entityID, ErrEntityNotFound)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("discover entity %d: unexpected status %d", entityID, status)
	}
	return payload.SubSources, nil
}

// FetchSince pages through a sub-source's measurements, oldest filter first.
// Pagination stops on an empty or short page. A nil since fetches full
// available history. Entries that fail to decode are counted and dropped
// without aborting the remaining pages.
func (c *HTTPClient) FetchSince(ctx context.Context, subSourceID int64, since *time.Time) (FetchResult, error) {
	var out FetchResult

	for page := 1; ; page++ {
		if page > 1 {
			if err := sleep(ctx, c.pageDelay); err != nil {
				return out, err
			}
		}

		params := url.Values{}
		params.Set("limit", strconv.Itoa(c.pageLimit))
		params.Set("page", strconv.Itoa(page))
		if since != nil {
			params.Set("date_from", since.UTC().Format(time.RFC3339))
		}

		var payload measurementsResponse
		status, err := c.getJSON(ctx, fmt.Sprintf("%s/subsources/%d/measurements", c.base, subSourceID), params, &payload)
		if err != nil {
			return out, fmt.Errorf("sub-source %d page %d: %w", subSourceID, page, err)
		}
		if status < 200 || status >= 300 {
			return out, fmt.Errorf("sub-source %d page %d: unexpected status %d", subSourceID, page, status)
		}

		for _, raw := range payload.Results {
			var rec models.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				out.Malformed++
				c.log.Warn().Err(err).Int64("sub_source", subSourceID).Int("page", page).Msg("dropping malformed record")
				continue
			}
			out.Records = append(out.Records, rec)
		}

		if len(payload.Results) < c.pageLimit {
			return out, nil
		}
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, params url.Values, dst any) (int, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode payload: %w", err)
	}
	return resp.StatusCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
