package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// DefaultAlphaVantageURL is the public Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

const (
	dailySeriesKey    = "Time Series (Daily)"
	intradaySeriesKey = "Time Series (60min)"
	intradayLayout    = "2006-01-02 15:04:05"
	dailyLayout       = "2006-01-02"
)

// AlphaVantageConfig configures the Alpha Vantage client.
type AlphaVantageConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // bounds every HTTP call; 0 means 10s
}

// AlphaVantage implements Provider against the Alpha Vantage REST API.
//
// The latest price is the high of the most recent daily bar; history is the
// 60-minute intraday close series.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaVantage creates a client. The HTTP client timeout is the hard bound
// on a quote lookup that never returns.
func NewAlphaVantage(cfg AlphaVantageConfig) *AlphaVantage {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAlphaVantageURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlphaVantage{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// bar is one OHLC entry; only the fields we read are decoded.
type bar struct {
	High  string `json:"2. high"`
	Close string `json:"4. close"`
}

func (a *AlphaVantage) LookupPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	series, err := a.series(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {ticker},
		"outputsize": {"compact"},
	}, dailySeriesKey)
	if err != nil {
		return decimal.Zero, err
	}

	// Keys are ISO dates, so the lexicographic max is the latest day.
	var latest string
	for day := range series {
		if day > latest {
			latest = day
		}
	}
	if latest == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}

	price, err := decimal.NewFromString(series[latest].High)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q for %s: %v", ErrBadResponse, series[latest].High, ticker, err)
	}
	return price, nil
}

func (a *AlphaVantage) LookupHistory(ctx context.Context, ticker string) ([]model.PricePoint, error) {
	series, err := a.series(ctx, url.Values{
		"function": {"TIME_SERIES_INTRADAY"},
		"symbol":   {ticker},
		"interval": {"60min"},
	}, intradaySeriesKey)
	if err != nil {
		return nil, err
	}

	points := make([]model.PricePoint, 0, len(series))
	for stamp, b := range series {
		ts, err := time.Parse(intradayLayout, stamp)
		if err != nil {
			if ts, err = time.Parse(dailyLayout, stamp); err != nil {
				return nil, fmt.Errorf("%w: timestamp %q: %v", ErrBadResponse, stamp, err)
			}
		}
		price, err := decimal.NewFromString(b.Close)
		if err != nil {
			return nil, fmt.Errorf("%w: close %q at %s: %v", ErrBadResponse, b.Close, stamp, err)
		}
		points = append(points, model.PricePoint{Timestamp: ts, Price: price})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// series performs the query and returns the time series stored under key.
func (a *AlphaVantage) series(ctx context.Context, params url.Values, key string) (map[string]bar, error) {
	params.Set("apikey", a.apiKey)
	symbol := params.Get("symbol")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("quote: build request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote: %s %s: %w", params.Get("function"), symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote: %s %s: unexpected status %s",
			params.Get("function"), symbol, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("quote: read body: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	// Unknown symbols come back as 200 with an "Error Message" field.
	if _, ok := payload["Error Message"]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	for _, k := range []string{"Note", "Information"} {
		if raw, ok := payload[k]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
	}

	raw, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrBadResponse, key)
	}
	var series map[string]bar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return series, nil
}
