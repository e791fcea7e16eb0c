// bench-runner fires concurrent checkouts at a shop-api instance and reports
// latency percentiles plus the split between created orders and stock
// rejections. It seeds its own user, customer and product, so a fresh
// database is enough to run it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp         string         `json:"timestamp"`
	BaseURL           string         `json:"base_url"`
	Transactions      int            `json:"transactions"`
	Concurrency       int            `json:"concurrency"`
	CreatedOrders     int            `json:"created_orders"`
	InsufficientStock int            `json:"insufficient_stock"`
	ErrorRequests     int            `json:"error_requests"`
	DurationSeconds   float64        `json:"duration_seconds"`
	AvgLatencyMs      float64        `json:"avg_latency_ms"`
	P50LatencyMs      float64        `json:"p50_latency_ms"`
	P90LatencyMs      float64        `json:"p90_latency_ms"`
	P95LatencyMs      float64        `json:"p95_latency_ms"`
	P99LatencyMs      float64        `json:"p99_latency_ms"`
	ThroughputRPS     float64        `json:"throughput_rps"`
	StatusCounts      map[string]int `json:"status_counts"`
	FirstError        string         `json:"first_error"`
	FinalStock        int32          `json:"final_stock"`
	ExpectedStock     int32          `json:"expected_stock"`
	StockConsistent   bool           `json:"stock_consistent"`
}

type metrics struct {
	mu           sync.Mutex
	created      int
	insufficient int
	errors       int
	latenciesMs  []float64
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{statusCounts: make(map[string]int)}
}

func (m *metrics) record(status int, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCounts[strconv.Itoa(status)]++
	switch {
	case err != nil:
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
	case status == http.StatusCreated:
		m.created++
		m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
	case status == http.StatusConflict:
		m.insufficient++
		m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
	default:
		m.errors++
		if m.firstError == "" {
			m.firstError = fmt.Sprintf("unexpected status %d", status)
		}
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("SHOP_BASE_URL", "http://localhost:8080"), "shop-api base URL")
	total := flag.Int("total", 1000, "total number of checkout attempts")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	stock := flag.Int("stock", 500, "initial stock of the benchmark product")
	quantity := flag.Int("quantity", 1, "quantity per checkout")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 || *concurrency <= 0 || *stock < 0 || *quantity <= 0 {
		fmt.Fprintln(os.Stderr, "total, concurrency and quantity must be > 0, stock must be >= 0")
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	base := strings.TrimRight(*baseURL, "/")

	token, customerID, productID, err := seed(client, base, int32(*stock))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	m := newMetrics()
	tasks := make(chan struct{})
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				status, latency, err := checkout(client, base, token, customerID, productID, int32(*quantity))
				m.record(status, latency, err)
			}
		}()
	}
	for i := 0; i < *total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	finalStock, err := fetchStock(client, base, productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stock check failed: %v\n", err)
	}

	avg := 0.0
	for _, v := range m.latenciesMs {
		avg += v
	}
	if len(m.latenciesMs) > 0 {
		avg /= float64(len(m.latenciesMs))
	}
	p50, p90, p95, p99 := percentiles(m.latenciesMs)

	expected := int32(*stock) - int32(m.created)*int32(*quantity)
	result := benchResult{
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		BaseURL:           base,
		Transactions:      *total,
		Concurrency:       *concurrency,
		CreatedOrders:     m.created,
		InsufficientStock: m.insufficient,
		ErrorRequests:     m.errors,
		DurationSeconds:   duration.Seconds(),
		AvgLatencyMs:      avg,
		P50LatencyMs:      p50,
		P90LatencyMs:      p90,
		P95LatencyMs:      p95,
		P99LatencyMs:      p99,
		ThroughputRPS:     float64(*total) / duration.Seconds(),
		StatusCounts:      m.statusCounts,
		FirstError:        m.firstError,
		FinalStock:        finalStock,
		ExpectedStock:     expected,
		StockConsistent:   finalStock == expected,
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
	if *output != "" {
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write output: %v\n", err)
			os.Exit(1)
		}
	}
	if !result.StockConsistent {
		fmt.Fprintf(os.Stderr, "STOCK MISMATCH: final=%d expected=%d\n", finalStock, expected)
		os.Exit(1)
	}
}

// seed registers a throwaway user, logs in, and creates the customer and
// product the workers will fight over.
func seed(client *http.Client, base string, stock int32) (token, customerID, productID string, err error) {
	suffix := uuid.NewString()[:8]
	username := "bench-" + suffix

	var reg map[string]any
	if _, err = postJSON(client, base+"/api/user/register", "", map[string]any{
		"username": username, "password": "bench-secret",
	}, &reg); err != nil {
		return "", "", "", fmt.Errorf("register: %w", err)
	}

	var login map[string]string
	if _, err = postJSON(client, base+"/api/user/login", "", map[string]any{
		"username": username, "password": "bench-secret",
	}, &login); err != nil {
		return "", "", "", fmt.Errorf("login: %w", err)
	}
	token = login["token"]

	var customer map[string]any
	if _, err = postJSON(client, base+"/api/customers/", token, map[string]any{
		"name": "bench customer " + suffix, "email": username + "@bench.local",
	}, &customer); err != nil {
		return "", "", "", fmt.Errorf("create customer: %w", err)
	}
	customerID, _ = customer["id"].(string)

	var product map[string]any
	if _, err = postJSON(client, base+"/api/products/", "", map[string]any{
		"name": "bench product " + suffix, "price": "9.99", "stock": stock,
	}, &product); err != nil {
		return "", "", "", fmt.Errorf("create product: %w", err)
	}
	productID, _ = product["id"].(string)

	return token, customerID, productID, nil
}

func checkout(client *http.Client, base, token, customerID, productID string, qty int32) (int, time.Duration, error) {
	body := map[string]any{
		"customer_id": customerID,
		"lines":       []map[string]any{{"product_id": productID, "quantity": qty}},
	}
	start := time.Now()
	status, err := postJSON(client, base+"/api/orders/", token, body, nil)
	return status, time.Since(start), err
}

func fetchStock(client *http.Client, base, productID string) (int32, error) {
	resp, err := client.Get(base + "/api/products/" + productID)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	var product struct {
		Stock int32 `json:"stock"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return 0, err
	}
	return product.Stock, nil
}

func postJSON(client *http.Client, url, token string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func percentiles(values []float64) (p50, p90, p95, p99 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	at := func(p float64) float64 {
		idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return at(50), at(90), at(95), at(99)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
