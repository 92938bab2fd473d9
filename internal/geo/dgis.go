package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const catalogBaseURL = "https://catalog.api.2gis.com"

// DefaultLocales are tried in order until one returns a match.
var DefaultLocales = []string{"en_TZ", "sw_TZ"}

// DGISClient provides access to the 2GIS catalog (geocoding) API.
type DGISClient struct {
	httpClient *http.Client
	apiKey     string
	regionID   string
	locales    []string
	timeout    time.Duration
}

// NewDGISClient constructs a new 2GIS client.
func NewDGISClient(httpClient *http.Client, apiKey, regionID string, locales ...string) *DGISClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if len(locales) == 0 {
		locales = DefaultLocales
	}
	return &DGISClient{httpClient: httpClient, apiKey: apiKey, regionID: regionID, locales: locales, timeout: 7 * time.Second}
}

var _ Geocoder = (*DGISClient)(nil)

// tryParseLatLng returns lat,lng if query looks like "lat,lng" (WGS84), otherwise (0,0,false).
func tryParseLatLng(query string) (float64, float64, bool) {
	q := strings.TrimSpace(query)
	sep := ","
	if strings.Contains(q, ";") {
		sep = ";"
	}
	parts := strings.Split(q, sep)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if !ValidCoordinates(lat, lng) {
		return 0, 0, false
	}
	return lat, lng, true
}

type geocodeItem struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	AddressName string `json:"address_name"`
	Point       struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"point"`
}

func (it geocodeItem) address() string {
	for _, v := range []string{it.FullName, it.AddressName, it.Name} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

type geocodeResponse struct {
	Meta struct {
		Code int `json:"code"`
	} `json:"meta"`
	Result struct {
		Items []geocodeItem `json:"items"`
	} `json:"result"`
}

// SearchByText geocodes a free-text address.
func (c *DGISClient) SearchByText(ctx context.Context, query string) (Location, error) {
	if strings.TrimSpace(query) == "" {
		return Location{}, resolutionErr("search", ErrNotFound)
	}

	// "lat,lng" typed into the search box resolves to the address at that point
	if lat, lng, ok := tryParseLatLng(query); ok {
		return c.ResolveByCoordinates(ctx, lat, lng)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type attempt struct {
		locale string
		typed  bool
	}
	attempts := make([]attempt, 0, len(c.locales)*2)
	for _, l := range c.locales {
		attempts = append(attempts, attempt{locale: l, typed: true}, attempt{locale: l, typed: false})
	}

	lastErr := ErrNotFound
	for _, a := range attempts {
		params := url.Values{}
		params.Set("q", query)
		params.Set("fields", "items.point,items.full_name,items.address_name")
		if a.typed {
			params.Set("type", "building,street")
		}
		params.Set("search_is_query_text_complete", "true")
		params.Set("locale", a.locale)

		item, err := c.lookup(ctx, params)
		if err == nil {
			return item, nil
		}
		lastErr = err
		if errors.Is(err, ErrUnavailable) {
			break
		}
	}
	return Location{}, resolutionErr("search", lastErr)
}

// ResolveByCoordinates reverse-geocodes a point.
func (c *DGISClient) ResolveByCoordinates(ctx context.Context, lat, lng float64) (Location, error) {
	if !ValidCoordinates(lat, lng) {
		return Location{}, resolutionErr("reverse", ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	params.Set("fields", "items.point,items.full_name,items.address_name")
	params.Set("locale", c.locales[0])

	loc, err := c.lookup(ctx, params)
	if err != nil {
		return Location{}, resolutionErr("reverse", err)
	}
	// the pin stays where the user dropped it, only the address comes from 2GIS
	loc.Latitude, loc.Longitude = lat, lng
	return loc, nil
}

func (c *DGISClient) lookup(ctx context.Context, params url.Values) (Location, error) {
	params.Set("key", c.apiKey)
	if c.regionID != "" {
		params.Set("region_id", c.regionID)
	}
	endpoint := fmt.Sprintf("%s/3.0/items/geocode?%s", catalogBaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Location{}, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Location{}, fmt.Errorf("%w: http %s: %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(b)))
	}

	var payload geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if payload.Meta.Code == http.StatusNotFound || len(payload.Result.Items) == 0 {
		return Location{}, ErrNotFound
	}
	it := payload.Result.Items[0]
	loc := Location{Latitude: it.Point.Lat, Longitude: it.Point.Lon, Address: it.address()}
	if !loc.Resolved() {
		return Location{}, ErrNotFound
	}
	return loc, nil
}
