package quote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const dailyBody = `{
  "Meta Data": {"2. Symbol": "IBM"},
  "Time Series (Daily)": {
    "2024-03-07": {"1. open": "196.0", "2. high": "198.7300", "3. low": "195.1", "4. close": "196.54", "5. volume": "1"},
    "2024-03-08": {"1. open": "197.0", "2. high": "199.5000", "3. low": "195.8", "4. close": "195.95", "5. volume": "1"},
    "2024-03-06": {"1. open": "193.5", "2. high": "195.2000", "3. low": "192.0", "4. close": "194.00", "5. volume": "1"}
  }
}`

const intradayBody = `{
  "Meta Data": {"2. Symbol": "IBM"},
  "Time Series (60min)": {
    "2024-03-08 19:00:00": {"2. high": "196.0", "4. close": "195.90"},
    "2024-03-08 17:00:00": {"2. high": "196.5", "4. close": "195.10"},
    "2024-03-08 18:00:00": {"2. high": "196.2", "4. close": "195.50"}
  }
}`

func newAVServer(t *testing.T, handler http.HandlerFunc) *AlphaVantage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlphaVantage(AlphaVantageConfig{BaseURL: srv.URL, APIKey: "test-key", Timeout: time.Second})
}

func TestAlphaVantage_LookupPrice_LatestHigh(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "TIME_SERIES_DAILY" {
			t.Errorf("unexpected function %q", q.Get("function"))
		}
		if q.Get("symbol") != "IBM" || q.Get("apikey") != "test-key" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(dailyBody))
	})

	price, err := av.LookupPrice(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("199.5")) {
		t.Errorf("expected latest high 199.5, got %s", price)
	}
}

func TestAlphaVantage_LookupPrice_UnknownSymbol(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	_, err := av.LookupPrice(context.Background(), "ZZZZZ")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAlphaVantage_LookupPrice_RateLimited(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	})

	_, err := av.LookupPrice(context.Background(), "IBM")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestAlphaVantage_LookupPrice_ServerError(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := av.LookupPrice(context.Background(), "IBM")
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("transport failure must not look like an unknown symbol")
	}
}

func TestAlphaVantage_LookupPrice_Malformed(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Meta Data": {}}`))
	})

	_, err := av.LookupPrice(context.Background(), "IBM")
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse, got %v", err)
	}
}

func TestAlphaVantage_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	av := NewAlphaVantage(AlphaVantageConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := av.LookupPrice(context.Background(), "IBM")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("lookup was not bounded by the client timeout")
	}
}

func TestAlphaVantage_LookupHistory_SortedAscending(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "TIME_SERIES_INTRADAY" || q.Get("interval") != "60min" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(intradayBody))
	})

	points, err := av.LookupHistory(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	want := []string{"195.1", "195.5", "195.9"}
	for i, p := range points {
		if !p.Price.Equal(decimal.RequireFromString(want[i])) {
			t.Errorf("point %d: expected %s, got %s", i, want[i], p.Price)
		}
		if i > 0 && !points[i-1].Timestamp.Before(p.Timestamp) {
			t.Errorf("points not ascending at %d", i)
		}
	}
}
