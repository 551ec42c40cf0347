// Package main provides a fake Shopify Admin API for running the relay
// locally. It serves a small fixed order book in both lookup envelopes:
//
//	GET /admin/api/{version}/orders/{id}.json    → {"order":{...}}
//	GET /admin/api/{version}/orders.json?name=X  → {"orders":[...]}
//
// Any request may add ?delay=2s to stall the response, which is how the
// relay's upstream timeout is exercised by hand. /__status/{code} answers
// with an arbitrary status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type order struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	TotalPrice string     `json:"total_price"`
	Currency   string     `json:"currency"`
	CreatedAt  string     `json:"created_at"`
	LineItems  []lineItem `json:"line_items"`
}

type lineItem struct {
	SKU      string `json:"sku"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

var book = []order{
	{
		ID: 5512345678901, Name: "#1001", Email: "ada@example.com",
		TotalPrice: "42.00", Currency: "USD", CreatedAt: "2024-03-01T10:15:00-05:00",
		LineItems: []lineItem{{SKU: "TAR-01", Title: "Tarot deck", Quantity: 1, Price: "42.00"}},
	},
	{
		ID: 5512345678902, Name: "#1002", Email: "grace@example.com",
		TotalPrice: "18.50", Currency: "USD", CreatedAt: "2024-03-02T08:00:00-05:00",
		LineItems: []lineItem{
			{SKU: "CRY-07", Title: "Amethyst", Quantity: 2, Price: "7.25"},
			{SKU: "INC-02", Title: "Incense", Quantity: 1, Price: "4.00"},
		},
	},
}

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	token := flag.String("token", os.Getenv("SHOPIFY_ACCESS_TOKEN"), "access token callers must present; empty accepts any")
	delay := flag.Duration("delay", 0, "delay applied to every order response")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	shop := &stubShop{token: *token, delay: *delay, logger: logger}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("stub shop listening", "addr", addr, "orders", len(book))
	if err := http.ListenAndServe(addr, shop.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type stubShop struct {
	token  string
	delay  time.Duration
	logger *slog.Logger
}

func (s *stubShop) routes() http.Handler {
	r := chi.NewRouter()

	// /__status/{code} returns an arbitrary HTTP status code.
	// Example: GET /__status/503 → 503 Service Unavailable
	r.HandleFunc("/__status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(chi.URLParam(r, "code"))
		if err != nil || code < 100 || code > 599 {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, map[string]string{"errors": http.StatusText(code)})
	})

	r.Route("/admin/api/{version}", func(r chi.Router) {
		r.Use(s.stall, s.authorize)
		r.Get("/orders/{id}.json", s.orderByID)
		r.Get("/orders.json", s.ordersByName)
	})
	return r
}

func (s *stubShop) stall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.delay
		if q := r.URL.Query().Get("delay"); q != "" {
			if parsed, err := time.ParseDuration(q); err == nil {
				d = parsed
			}
		}
		if d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				s.logger.Info("caller gave up", "path", r.URL.Path, "after", d)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *stubShop) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("X-Shopify-Access-Token") != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"errors": "[API] Invalid API key or access token (unrecognized login or wrong password)",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *stubShop) orderByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err == nil {
		for _, o := range book {
			if o.ID == id {
				writeJSON(w, http.StatusOK, map[string]order{"order": o})
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"errors": "Not Found"})
}

func (s *stubShop) ordersByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	matches := []order{}
	for _, o := range book {
		if name == "" || o.Name == name {
			matches = append(matches, o)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]order{"orders": matches})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
