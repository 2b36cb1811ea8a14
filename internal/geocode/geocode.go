// README: Google Maps geocoding adapter; resolves a delivery address to
// coordinates when the client did not supply any.
package geocode

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"mesa/internal/modules/order"
	"mesa/internal/types"
)

type Client struct {
	maps *maps.Client
}

var _ order.Geocoder = (*Client)(nil)

func NewClient(apiKey string) (*Client, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &Client{maps: c}, nil
}

func (c *Client) Geocode(ctx context.Context, a order.Address) (*types.Point, error) {
	query := strings.Join([]string{a.Street, a.City, a.State, a.Zip}, ", ")
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no geocoding result for %q", query)
	}
	loc := results[0].Geometry.Location
	return &types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
