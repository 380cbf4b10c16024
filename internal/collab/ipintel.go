package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/recondeck/recondeck/internal/record"
	"github.com/recondeck/recondeck/internal/transport"
)

// DefaultIPIntelBase is the default IP intelligence endpoint.
const DefaultIPIntelBase = "http://ip-api.com/json"

// IPIntelClient answers geolocation and ASN lookups from an ip-api style
// JSON endpoint. One response carries both views, so the client implements
// GeoLocator and ASNLocator together.
type IPIntelClient struct {
	client  transport.Client
	baseURL string
}

// NewIPIntelClient builds an IPIntelClient. An empty base falls back to
// DefaultIPIntelBase.
func NewIPIntelClient(client transport.Client, baseURL string) *IPIntelClient {
	if baseURL == "" {
		baseURL = DefaultIPIntelBase
	}
	return &IPIntelClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type ipIntelResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	City       string  `json:"city"`
	RegionName string  `json:"regionName"`
	Timezone   string  `json:"timezone"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Continent  string  `json:"continent"`
	AS         string  `json:"as"`
	ASName     string  `json:"asname"`
}

func (c *IPIntelClient) lookup(ctx context.Context, ip string) (*ipIntelResponse, error) {
	resp, err := c.client.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/" + ip,
		Query: map[string]string{
			"fields": "status,message,country,city,regionName,timezone,lat,lon,continent,as,asname",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying ip intel for %s: %w", ip, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip intel for %s: unexpected status %d", ip, resp.StatusCode)
	}
	var body ipIntelResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decoding ip intel response: %w", err)
	}
	if body.Status == "fail" {
		return nil, fmt.Errorf("ip intel for %s: %s", ip, body.Message)
	}
	return &body, nil
}

// Locate returns the geolocation of an IP address.
func (c *IPIntelClient) Locate(ctx context.Context, ip string) (*record.GeoInfo, error) {
	body, err := c.lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	return &record.GeoInfo{
		Country:   body.Country,
		City:      body.City,
		Region:    body.RegionName,
		Timezone:  body.Timezone,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

// ASN returns the autonomous system announcing an IP address. The "as"
// field arrives as "AS64500 Example Net"; the number is its first token.
func (c *IPIntelClient) ASN(ctx context.Context, ip string) (*record.ASNInfo, error) {
	body, err := c.lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	number := body.AS
	if i := strings.IndexByte(number, ' '); i > 0 {
		number = number[:i]
	}
	return &record.ASNInfo{
		ASN:       number,
		Name:      body.ASName,
		Country:   body.Country,
		Continent: body.Continent,
	}, nil
}
