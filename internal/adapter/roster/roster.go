// Package roster pulls member and team records from the club's roster
// feed, a sibling service that exposes incremental updates over HTTP.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"sync-service/pkg/models"
)

// Client talks to the roster feed with a shared service token.
type Client struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

func NewClient(baseURL, serviceToken string) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchRecords returns roster records of the given kind updated since the
// watermark. A zero since fetches the full roster; the feed requires the
// parameter either way, so a far-past date stands in for "everything".
func (c *Client) FetchRecords(ctx context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error) {
	watermark := since.UTC()
	if since.IsZero() {
		watermark = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		log.Printf("🔄 Fetching full roster feed for %s", kind)
	} else {
		log.Printf("🔄 Fetching roster feed for %s since %s", kind, watermark.Format(time.RFC3339))
	}

	url := fmt.Sprintf("%s/api/v1/feed/%s?since=%s", c.baseURL, kind, watermark.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster feed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read roster feed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ Roster feed error response: %s", string(body))
		return nil, fmt.Errorf("roster feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Records []models.Record `json:"records"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode roster feed response: %w", err)
	}

	log.Printf("📥 Retrieved %d %s records from roster feed", len(payload.Records), kind)
	return payload.Records, nil
}
