package transport

import (
	"context"
	"fmt"

	"geoattend/engine/internal/model"
)

// SiteDirectory reads the active site list from the site-management service.
type SiteDirectory struct {
	client *Client
	url    string
}

func NewSiteDirectory(client *Client, url string) *SiteDirectory {
	return &SiteDirectory{client: client, url: url}
}

type sitesResponse struct {
	Sites []struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		Latitude     float64 `json:"latitude"`
		Longitude    float64 `json:"longitude"`
		RadiusMeters float64 `json:"radiusMeters"`
	} `json:"sites"`
}

func (d *SiteDirectory) ListActiveSites(ctx context.Context) ([]model.Site, error) {
	var resp sitesResponse
	status, err := d.client.GetJSON(ctx, d.url, &resp)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("list sites: unexpected status %d", status)
	}

	out := make([]model.Site, 0, len(resp.Sites))
	for _, s := range resp.Sites {
		out = append(out, model.Site{
			ID:           s.ID,
			Name:         s.Name,
			Center:       model.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
			RadiusMeters: s.RadiusMeters,
		})
	}
	return out, nil
}
