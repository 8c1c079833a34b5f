// Package weather reads current conditions and a coarse place name for a
// coordinate from public endpoints.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/logger"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodeURL  = "https://api.bigdatacloud.net/data/reverse-geocode-client"

	defaultPlace = "Localização Atual"
	ruralPlace   = "Área Rural"
	maxBody      = 1 << 20
)

// Info is the weather panel for one position.
type Info struct {
	LocationName string  `json:"locationName"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	WindSpeed    float64 `json:"windSpeed"`
}

// Client queries Open-Meteo and BigDataCloud. Each call has its own timeout.
type Client struct {
	HTTP        *http.Client
	ForecastURL string
	GeocodeURL  string
	Timeout     time.Duration
	log         *zap.Logger
}

func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		HTTP:        &http.Client{},
		ForecastURL: DefaultForecastURL,
		GeocodeURL:  DefaultGeocodeURL,
		Timeout:     timeout,
		log:         logger.OrNop(log),
	}
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

type geocodeResponse struct {
	Locality             string `json:"locality"`
	City                 string `json:"city"`
	PrincipalSubdivision string `json:"principalSubdivision"`
}

// Fetch returns nil when no weather data could be read. The place name
// degrades on its own and never makes the result nil.
func (c *Client) Fetch(ctx context.Context, lat, lng float64) *Info {
	coords := url.Values{}
	coords.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	coords.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))

	type placeResult struct{ name string }
	placeCh := make(chan placeResult, 1)
	go func() {
		placeCh <- placeResult{c.placeName(ctx, coords)}
	}()

	q := url.Values{}
	for k, v := range coords {
		q[k] = v
	}
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m")
	q.Set("wind_speed_unit", "kmh")

	var fc forecastResponse
	err := c.getJSON(ctx, c.ForecastURL+"?"+q.Encode(), &fc)
	place := (<-placeCh).name
	if err != nil {
		c.log.Warn("weather_fetch_failed", zap.Error(err))
		return nil
	}
	return &Info{
		LocationName: place,
		Temperature:  fc.Current.Temperature,
		Humidity:     fc.Current.Humidity,
		WindSpeed:    fc.Current.WindSpeed,
	}
}

func (c *Client) placeName(ctx context.Context, coords url.Values) string {
	q := url.Values{}
	for k, v := range coords {
		q[k] = v
	}
	q.Set("localityLanguage", "pt")

	var geo geocodeResponse
	if err := c.getJSON(ctx, c.GeocodeURL+"?"+q.Encode(), &geo); err != nil {
		c.log.Debug("reverse_geocode_failed", zap.Error(err))
		return defaultPlace
	}
	for _, name := range []string{geo.Locality, geo.City, geo.PrincipalSubdivision} {
		if name != "" {
			return name
		}
	}
	return ruralPlace
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}
