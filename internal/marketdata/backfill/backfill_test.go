package backfill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"trading-platformv1/internal/model"
)

func TestRun_PagesThroughTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("symbol") != "BTC-USD" {
			t.Errorf("unexpected symbol %q", r.URL.Query().Get("symbol"))
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page_token") {
		case "":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"trades": []map[string]interface{}{
					{"price": "100", "size": "1", "timestamp": 10},
					{"price": "101", "size": "2", "timestamp": 20},
				},
				"next_page_token": "p2",
			})
		case "p2":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"trades": []map[string]interface{}{
					{"price": "102", "size": "1", "timestamp": 30},
				},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL, Source: "sim"})

	var got []model.Tick
	err := b.Run(context.Background(), "BTC-USD", 0, 100, func(tk model.Tick) {
		got = append(got, tk)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(got))
	}
	if got[0].Source != "sim" || got[0].Timestamp != 10 || !got[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected first tick: %+v", got[0])
	}
	if got[2].Timestamp != 30 {
		t.Errorf("expected last trade ts=30, got %d", got[2].Timestamp)
	}
}

func TestRun_HTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL, Source: "sim"})
	err := b.Run(context.Background(), "BTC-USD", 0, 100, func(model.Tick) {})
	if err == nil {
		t.Fatal("expected error from 502 response")
	}
}
