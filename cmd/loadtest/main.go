package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultPrice      = int64(1000)
	defaultQty        = int32(1)

	statusNetworkError = 0
)

type loadMode string

const (
	modeReserve       loadMode = "reserve"
	modeReserveStatus loadMode = "reserve-status"
	modeReserveCancel loadMode = "reserve-cancel"
)

type config struct {
	baseURL       string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	showID        string
	ticketClassID string
	priceMinor    int64
	qty           int32
	seedCapacity  int
	buyerTag      string
	outputPath    string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record фиксирует результат вызова. status 0 означает сетевую ошибку.
func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if isSuccessStatus(status) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func isSuccessStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusBadRequest
}

func statusLabel(status int) string {
	if status == statusNetworkError {
		return "network_error"
	}
	return strconv.Itoa(status)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string
	var qtyValue int

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max idle HTTP connections per host")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeReserve), "load mode: reserve | reserve-status | reserve-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for reserve mode (0..100)")
	flag.StringVar(&cfg.showID, "show-id", "show-load", "show id used for reservations")
	flag.StringVar(&cfg.ticketClassID, "ticket-class-id", "tc-load", "ticket class id used for reservations")
	flag.Int64Var(&cfg.priceMinor, "price-minor", defaultPrice, "seeded ticket class price in minor units")
	flag.IntVar(&qtyValue, "qty", int(defaultQty), "tickets per reservation")
	flag.IntVar(&cfg.seedCapacity, "seed-capacity", 1_000_000, "capacity of the seeded ticket class (0 disables seeding)")
	flag.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.qty = int32(qtyValue)

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.priceMinor <= 0 {
		return cfg, errors.New("price-minor must be > 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.seedCapacity < 0 {
		return cfg, errors.New("seed-capacity must be >= 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.baseURL) == "" {
		return cfg, errors.New("addr is required")
	}
	if strings.TrimSpace(cfg.showID) == "" {
		return cfg, errors.New("show-id is required")
	}
	if strings.TrimSpace(cfg.ticketClassID) == "" {
		return cfg, errors.New("ticket-class-id is required")
	}
	if strings.TrimSpace(cfg.buyerTag) == "" {
		return cfg, errors.New("buyer-tag is required")
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeReserve:
		return modeReserve, nil
	case modeReserveStatus:
		return modeReserveStatus, nil
	case modeReserveCancel:
		return modeReserveCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newHTTPClient(cfg)

	if cfg.seedCapacity > 0 {
		if err := seedTicketClass(client, cfg); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to seed ticket class: %v\n", err)
			os.Exit(1)
		}
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections

	return &http.Client{Transport: transport}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// seedTicketClass создаёт класс билетов для прогона. Повторный запуск
// против того же сервиса получает 409 и продолжает работу.
func seedTicketClass(client *http.Client, cfg config) error {
	body := map[string]interface{}{
		"id":          cfg.ticketClassID,
		"show_id":     cfg.showID,
		"name":        "Load test",
		"price_minor": cfg.priceMinor,
		"capacity":    cfg.seedCapacity,
	}

	status, _, err := doJSON(client, cfg.timeout, http.MethodPost,
		cfg.baseURL+"/api/v1/ticket-classes", "", body)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("seed ticket class returned status %d", status)
	}
	return nil
}

type reservationReply struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

func runScenario(
	client *http.Client,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	reserveKey := fmt.Sprintf("lt-reserve-%s-%d", runID, index)
	paymentID, status, err := callReserve(client, cfg, index, runID, reserveKey, col)
	if err != nil || !isSuccessStatus(status) {
		scenarioStatus = status
		if err == nil {
			err = fmt.Errorf("reserve returned status %d", status)
		}
		return err
	}
	if paymentID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("reserve response returned empty payment id")
	}

	if cfg.mode == modeReserveStatus {
		if status, err := callGetPayment(client, cfg, paymentID, col); err != nil || !isSuccessStatus(status) {
			scenarioStatus = status
			if err == nil {
				err = fmt.Errorf("get payment returned status %d", status)
			}
			return err
		}
	}

	if cfg.mode == modeReserveCancel || (cfg.mode == modeReserve && shouldCancelScenario(index, cfg.cancelRate)) {
		if status, err := callCancel(client, cfg, paymentID, col); err != nil || !isSuccessStatus(status) {
			scenarioStatus = status
			if err == nil {
				err = fmt.Errorf("cancel returned status %d", status)
			}
			return err
		}
	}

	return nil
}

func callReserve(
	client *http.Client,
	cfg config,
	index int,
	runID, key string,
	col *collector,
) (string, int, error) {
	body := map[string]interface{}{
		"show_id":  cfg.showID,
		"buyer_id": fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, index),
		"tickets": []map[string]interface{}{
			{"ticket_class_id": cfg.ticketClassID, "quantity": cfg.qty},
		},
	}

	start := time.Now()
	status, payload, err := doJSON(client, cfg.timeout, http.MethodPost,
		cfg.baseURL+"/api/v1/reservations", key, body)
	col.record("Reserve", time.Since(start), status)
	if err != nil {
		return "", status, err
	}

	var reply reservationReply
	if unmarshalErr := json.Unmarshal(payload, &reply); unmarshalErr != nil && isSuccessStatus(status) {
		return "", status, fmt.Errorf("decode reserve response: %w", unmarshalErr)
	}
	return reply.PaymentID, status, nil
}

func callGetPayment(client *http.Client, cfg config, paymentID string, col *collector) (int, error) {
	start := time.Now()
	status, _, err := doJSON(client, cfg.timeout, http.MethodGet,
		cfg.baseURL+"/api/v1/payments/"+paymentID, "", nil)
	col.record("GetPayment", time.Since(start), status)
	return status, err
}

func callCancel(client *http.Client, cfg config, paymentID string, col *collector) (int, error) {
	start := time.Now()
	status, _, err := doJSON(client, cfg.timeout, http.MethodPost,
		cfg.baseURL+"/api/v1/payments/"+paymentID+"/cancel", "", nil)
	col.record("CancelPayment", time.Since(start), status)
	return status, err
}

// doJSON выполняет HTTP-запрос с JSON-телом и возвращает статус и тело
// ответа. Сетевые ошибки возвращают статус statusNetworkError.
func doJSON(
	client *http.Client,
	timeout time.Duration,
	method, url, idempotencyKey string,
	body interface{},
) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return statusNetworkError, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return statusNetworkError, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return statusNetworkError, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
