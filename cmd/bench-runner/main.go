package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/orderclient"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Transactions       int            `json:"transactions"`
	Concurrency        int            `json:"concurrency"`
	Vendors            int            `json:"vendors"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
	Stock              int64          `json:"stock,omitempty"`
	Oversold           bool           `json:"oversold"`
	ParentsReconciled  int            `json:"parents_reconciled,omitempty"`
	ParentsDiverged    int            `json:"parents_diverged,omitempty"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

func (m *metrics) record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, class := http.StatusOK, ""
	var apiErr *orderclient.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		status, class = apiErr.Status, apiErr.ErrorResponse.Error
	default:
		status, class = 0, "transport"
	}
	m.statusCounts[strconv.Itoa(status)]++
	if class != "" {
		m.errorClasses[class]++
	}

	if err != nil {
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

var admin = domain.Principal{ID: "bench-admin", Role: domain.RoleAdmin}

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	scenario := flag.String("scenario", "place", "scenario to run: place|contention|reconcile")
	total := flag.Int("total", 1000, "total number of transactions")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	vendors := flag.Int("vendors", 3, "vendors per order")
	stock := flag.Int64("stock", 50, "units on hand for the contention scenario")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 || *concurrency <= 0 || *vendors <= 0 {
		fmt.Fprintln(os.Stderr, "total, concurrency and vendors must be > 0")
		os.Exit(1)
	}

	client := orderclient.New(*baseURL, &http.Client{Timeout: *timeout})
	ctx := context.Background()
	run := runner{client: client, m: newMetrics(), timeout: *timeout}

	result := benchResult{
		BaseURL:      *baseURL,
		Scenario:     *scenario,
		Transactions: *total,
		Concurrency:  *concurrency,
		Vendors:      *vendors,
	}

	var (
		tx  func(i int) error
		err error
	)
	switch *scenario {
	case "place":
		var skus []string
		skus, err = run.seed(ctx, *vendors, int64(*total)*2)
		tx = func(i int) error { return run.placeAcross(ctx, i, skus) }
	case "contention":
		var skus []string
		skus, err = run.seed(ctx, 1, *stock)
		result.Stock = *stock
		tx = func(i int) error { return run.placeAcross(ctx, i, skus) }
	case "reconcile":
		var skus []string
		skus, err = run.seed(ctx, *vendors, int64(*total)*2)
		tx = func(i int) error { return run.shipAll(ctx, i, skus, &result) }
	default:
		err = fmt.Errorf("unknown scenario %q", *scenario)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				began := time.Now()
				err := tx(i)
				run.m.record(time.Since(began), err)
			}
		}()
	}
	for i := 0; i < *total; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	m := run.m
	if m.success > 0 {
		result.AvgLatencyMs = float64(m.total.Milliseconds()) / float64(m.success)
		result.MinLatencyMs = float64(m.minLatency.Milliseconds())
		result.MaxLatencyMs = float64(m.maxLatency.Milliseconds())
	}
	result.P50LatencyMs, result.P90LatencyMs, result.P95LatencyMs, result.P99LatencyMs = calcPercentiles(m.latenciesMs)
	result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	result.SuccessfulRequests = m.success
	result.ErrorRequests = m.errors
	result.DurationSeconds = duration.Seconds()
	result.ThroughputRPS = float64(m.success) / duration.Seconds()
	result.StatusCounts = m.statusCounts
	result.ErrorClasses = m.errorClasses
	result.FirstError = m.firstError
	if *scenario == "contention" {
		result.Oversold = int64(m.success) > *stock
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Oversold || result.ParentsDiverged > 0 {
		os.Exit(2)
	}
}

type runner struct {
	client  *orderclient.Client
	m       *metrics
	timeout time.Duration
	mu      sync.Mutex
}

// seed creates one product per vendor under a run-unique prefix.
func (r *runner) seed(ctx context.Context, vendors int, stock int64) ([]string, error) {
	run := uuid.NewString()[:8]
	skus := make([]string, vendors)
	for v := 0; v < vendors; v++ {
		p := domain.Product{
			ID:       fmt.Sprintf("bench-%s-%d", run, v),
			Name:     fmt.Sprintf("bench item %d", v),
			Price:    decimal.NewFromInt(int64(10 * (v + 1))),
			Stock:    stock,
			VendorID: fmt.Sprintf("bench-vendor-%s-%d", run, v),
		}
		if err := r.client.UpsertProduct(ctx, admin, p); err != nil {
			return nil, fmt.Errorf("seed %s: %w", p.ID, err)
		}
		skus[v] = p.ID
	}
	return skus, nil
}

func (r *runner) placeAcross(ctx context.Context, i int, skus []string) error {
	_, err := r.place(ctx, i, skus)
	return err
}

func (r *runner) place(ctx context.Context, i int, skus []string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	items := make([]domain.CartItem, len(skus))
	for k, sku := range skus {
		items[k] = domain.CartItem{ProductID: sku, Quantity: 1}
	}
	who := domain.Principal{ID: fmt.Sprintf("bench-customer-%d", i), Role: domain.RoleCustomer}
	res, err := r.client.PlaceOrder(ctx, who, items, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// shipAll places an order, has every vendor ship concurrently and checks
// that the parent ends up shipped.
func (r *runner) shipAll(ctx context.Context, i int, skus []string, res *benchResult) error {
	order, err := r.place(ctx, i, skus)
	if err != nil {
		return err
	}

	errs := make(chan error, len(order.SubOrders))
	var wg sync.WaitGroup
	for _, so := range order.SubOrders {
		wg.Add(1)
		go func(so domain.SubOrder) {
			defer wg.Done()
			vendor := domain.Principal{ID: so.VendorID, Role: domain.RoleVendor}
			_, err := r.client.SetStatus(ctx, vendor, so.ID, domain.StatusShipped)
			errs <- err
		}(so)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}

	rec, err := r.client.GetOrder(ctx, admin, order.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Order != nil && rec.Order.Status == domain.StatusShipped {
		res.ParentsReconciled++
	} else {
		res.ParentsDiverged++
	}
	return nil
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
