// Package marketplace pages through the VS Code marketplace gallery API and
// extracts per-extension statistics.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const DefaultEndpoint = "https://marketplace.visualstudio.com/_apis/public/gallery/extensionquery"

const acceptHeader = "application/json;api-version=7.2-preview.1;excludeUrls=true"

// Extension is one marketplace record in the shape snapshot files embed.
type Extension struct {
	ExtensionID  string   `json:"extension_id"`
	PublisherID  string   `json:"publisher_id"`
	Name         string   `json:"name"`
	Publisher    string   `json:"publisher"`
	Description  string   `json:"description"`
	Version      string   `json:"version"`
	InstallCount *int64   `json:"install_count"`
	Rating       *float64 `json:"rating"`
	RatingCount  *int64   `json:"rating_count"`
	Tags         []string `json:"tags"`
	Categories   []string `json:"categories"`
}

type Config struct {
	Endpoint  string
	PageSize  int
	MaxPages  int
	Category  string
	Timeout   time.Duration
	PageDelay time.Duration
}

// Client fetches extensions page by page. All gallery calls go through a
// circuit breaker so a broken marketplace fails fast instead of hammering the
// remote for every page.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 54
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Category == "" {
		cfg.Category = "AI"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 500 * time.Millisecond
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "marketplace",
		}),
	}
}

// FetchExtensions walks pages until a short page signals the end, with a
// politeness delay between requests.
func (c *Client) FetchExtensions(ctx context.Context) ([]Extension, error) {
	var all []Extension
	for page := 1; page <= c.cfg.MaxPages; page++ {
		extensions, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, extensions...)
		log.Printf("marketplace: page %d returned %d extensions (total %d)", page, len(extensions), len(all))
		if len(extensions) < c.cfg.PageSize {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PageDelay):
		}
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]Extension, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		return c.queryGallery(ctx, page)
	})
	if err != nil {
		return nil, err
	}
	return extractExtensions(v.(*galleryResponse)), nil
}

type galleryRequest struct {
	Filters []galleryFilter `json:"filters"`
	Flags   int             `json:"flags"`
}

type galleryFilter struct {
	Criteria   []galleryCriterion `json:"criteria"`
	Direction  int                `json:"direction"`
	PageSize   int                `json:"pageSize"`
	PageNumber int                `json:"pageNumber"`
	SortBy     int                `json:"sortBy"`
	SortOrder  int                `json:"sortOrder"`
}

type galleryCriterion struct {
	FilterType int    `json:"filterType"`
	Value      string `json:"value"`
}

type galleryResponse struct {
	Results []struct {
		Extensions []galleryExtension `json:"extensions"`
	} `json:"results"`
}

type galleryExtension struct {
	ExtensionName    string `json:"extensionName"`
	DisplayName      string `json:"displayName"`
	ShortDescription string `json:"shortDescription"`
	Publisher        struct {
		DisplayName   string `json:"displayName"`
		PublisherName string `json:"publisherName"`
	} `json:"publisher"`
	Versions []struct {
		Version string `json:"version"`
	} `json:"versions"`
	Statistics []struct {
		StatisticName string  `json:"statisticName"`
		Value         float64 `json:"value"`
	} `json:"statistics"`
	Tags       []string `json:"tags"`
	Categories []string `json:"categories"`
}

func (c *Client) queryGallery(ctx context.Context, page int) (*galleryResponse, error) {
	body := galleryRequest{
		Filters: []galleryFilter{{
			Criteria: []galleryCriterion{
				{FilterType: 8, Value: "Microsoft.VisualStudio.Code"},
				{FilterType: 10, Value: `target:"Microsoft.VisualStudio.Code" `},
				{FilterType: 12, Value: "37888"},
				{FilterType: 5, Value: c.cfg.Category},
			},
			Direction:  2,
			PageSize:   c.cfg.PageSize,
			PageNumber: page,
			SortBy:     4, // installs
			SortOrder:  0,
		}},
		Flags: 870,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("gallery returned HTTP %d", resp.StatusCode)
	}

	var decoded galleryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

func extractExtensions(resp *galleryResponse) []Extension {
	var out []Extension
	for _, result := range resp.Results {
		for _, ge := range result.Extensions {
			ext := Extension{
				ExtensionID: ge.ExtensionName,
				PublisherID: ge.Publisher.PublisherName,
				Name:        ge.DisplayName,
				Publisher:   ge.Publisher.DisplayName,
				Description: ge.ShortDescription,
				Tags:        ge.Tags,
				Categories:  ge.Categories,
			}
			if len(ge.Versions) > 0 {
				ext.Version = ge.Versions[0].Version
			}
			for _, stat := range ge.Statistics {
				switch stat.StatisticName {
				case "install":
					v := int64(stat.Value)
					ext.InstallCount = &v
				case "averagerating":
					v := stat.Value
					ext.Rating = &v
				case "ratingcount":
					v := int64(stat.Value)
					ext.RatingCount = &v
				}
			}
			out = append(out, ext)
		}
	}
	return out
}
