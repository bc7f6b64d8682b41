// Package weather fetches current weather and agricultural news for a zone.
// Both sources are best effort: a missing API key or a failed call drops
// that slice of context instead of failing the chat request.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
	defaultNewsBaseURL    = "https://newsapi.org/v2"

	requestTimeout = 10 * time.Second
	maxHeadlines   = 3
)

// Config holds the external context sources. An empty key disables that
// source.
type Config struct {
	WeatherAPIKey  string
	WeatherBaseURL string
	NewsAPIKey     string
	NewsBaseURL    string
}

// Client fetches external context for chat prompts.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Client. Base URLs fall back to the public endpoints.
func New(cfg Config) *Client {
	if cfg.WeatherBaseURL == "" {
		cfg.WeatherBaseURL = defaultWeatherBaseURL
	}
	if cfg.NewsBaseURL == "" {
		cfg.NewsBaseURL = defaultNewsBaseURL
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// Context fetches weather and news concurrently and merges them into one
// opaque map keyed by source. Sources without a configured key are skipped;
// failed sources are logged and dropped. The result may be empty, never nil.
func (c *Client) Context(ctx context.Context, lat, lon *float64) map[string]any {
	var (
		weather map[string]any
		news    []string
	)

	g, gctx := errgroup.WithContext(ctx)

	if c.cfg.WeatherAPIKey != "" && lat != nil && lon != nil {
		g.Go(func() error {
			w, err := c.currentWeather(gctx, *lat, *lon)
			if err != nil {
				slog.Warn("weather fetch failed", "error", err)
				return nil
			}
			weather = w
			return nil
		})
	}

	if c.cfg.NewsAPIKey != "" {
		g.Go(func() error {
			h, err := c.headlines(gctx)
			if err != nil {
				slog.Warn("news fetch failed", "error", err)
				return nil
			}
			news = h
			return nil
		})
	}

	_ = g.Wait()

	out := make(map[string]any)
	for k, v := range weather {
		out[k] = v
	}
	if len(news) > 0 {
		out["agricultural_news"] = news
	}
	return out
}

// weatherResponse mirrors the OpenWeather current-conditions payload, limited
// to the fields the chat prompt uses.
type weatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (c *Client) currentWeather(ctx context.Context, lat, lon float64) (map[string]any, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("units", "metric")
	q.Set("appid", c.cfg.WeatherAPIKey)

	var out weatherResponse
	if err := c.get(ctx, c.cfg.WeatherBaseURL+"/weather?"+q.Encode(), &out); err != nil {
		return nil, err
	}

	w := map[string]any{
		"temperature": out.Main.Temp,
		"humidity":    out.Main.Humidity,
		"wind_speed":  out.Wind.Speed,
	}
	if len(out.Weather) > 0 {
		w["description"] = out.Weather[0].Description
	}
	return w, nil
}

// newsResponse mirrors the NewsAPI top-headlines payload.
type newsResponse struct {
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

func (c *Client) headlines(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("q", "agriculture farming crops")
	q.Set("pageSize", strconv.Itoa(maxHeadlines))
	q.Set("apiKey", c.cfg.NewsAPIKey)

	var out newsResponse
	if err := c.get(ctx, c.cfg.NewsBaseURL+"/top-headlines?"+q.Encode(), &out); err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(out.Articles))
	for _, a := range out.Articles {
		if a.Title != "" {
			titles = append(titles, a.Title)
		}
	}
	return titles, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
