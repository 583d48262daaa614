package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

type stressMode string

const (
	modeCheckout       stressMode = "checkout"
	modeCheckoutPay    stressMode = "checkout-pay"
	modeCheckoutCancel stressMode = "checkout-cancel"
)

const scenarioMethod = "scenario"

// stressClient — подмножество grpcsvc.Client, которым пользуется нагрузка.
type stressClient interface {
	CreateProduct(ctx context.Context, req *grpcsvc.CreateProductRequest, opts ...grpc.CallOption) (*grpcsvc.ProductResponse, error)
	GetProduct(ctx context.Context, req *grpcsvc.GetProductRequest, opts ...grpc.CallOption) (*grpcsvc.ProductResponse, error)
	CheckoutCart(ctx context.Context, req *grpcsvc.CheckoutCartRequest, opts ...grpc.CallOption) (*grpcsvc.CheckoutCartResponse, error)
	ConfirmPayment(ctx context.Context, req *grpcsvc.ConfirmPaymentRequest, opts ...grpc.CallOption) (*grpcsvc.MutationResponse, error)
	CancelOrder(ctx context.Context, req *grpcsvc.CancelOrderRequest, opts ...grpc.CallOption) (*grpcsvc.MutationResponse, error)
}

type config struct {
	addr        string
	total       int
	concurrency int
	connections int
	timeout     time.Duration
	mode        stressMode
	productID   string
	stock       int
	price       decimal.Decimal
	quantity    int
	customerTag string
	outputPath  string
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

// stockReport — сверка итогового остатка с числом успешных оформлений.
type stockReport struct {
	ProductID  string `json:"product_id"`
	Initial    int    `json:"initial"`
	Final      int    `json:"final"`
	Expected   int    `json:"expected"`
	Placed     int64  `json:"placed"`
	SoldOut    int64  `json:"sold_out"`
	Cancelled  int64  `json:"cancelled"`
	Consistent bool   `json:"consistent"`
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
	Stock             stockReport             `json:"stock"`
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
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает вызов. expected=true засчитывает ожидаемый отказ
// (например, распроданный товар) как успешный.
func (c *collector) record(method string, latency time.Duration, code codes.Code, expected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK || expected {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
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

type counters struct {
	placed    atomic.Int64
	soldOut   atomic.Int64
	cancelled atomic.Int64
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	var modeValue, timeoutValue, priceValue string

	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 200, "checkout attempts to execute")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "number of gRPC client connections")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "stress mode: checkout | checkout-pay | checkout-cancel")
	fs.StringVar(&cfg.productID, "product", "", "existing product id; a fresh product is created when empty")
	fs.IntVar(&cfg.stock, "stock", 50, "initial stock of the created product")
	fs.StringVar(&priceValue, "price", "9.99", "price of the created product")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per checkout")
	fs.StringVar(&cfg.customerTag, "customer-tag", "stress", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.productID = strings.TrimSpace(cfg.productID)

	switch {
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.productID == "" && cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case !cfg.price.IsPositive():
		return cfg, errors.New("price must be > 0")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (stressMode, error) {
	switch stressMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutPay:
		return modeCheckoutPay, nil
	case modeCheckoutCancel:
		return modeCheckoutCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]stressClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result, err := runStress(context.Background(), cfg, clients)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "stress run failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !result.Stock.Consistent {
		os.Exit(1)
	}
}

// runStress готовит товар, гоняет параллельные оформления и сверяет остаток.
func runStress(ctx context.Context, cfg config, clients []stressClient) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	productID, initial, err := prepareProduct(ctx, clients[0], cfg, runID)
	if err != nil {
		return report{}, err
	}

	col := newCollector()
	var stats counters
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli stressClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, cli, cfg, productID, id, runID, col, &stats)
			}
		}(clients[workerID%len(clients)])
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	finalCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	product, err := clients[0].GetProduct(finalCtx, &grpcsvc.GetProductRequest{ProductID: productID})
	if err != nil {
		return result, fmt.Errorf("read final stock: %w", err)
	}

	expected := initial - int(stats.placed.Load()-stats.cancelled.Load())*cfg.quantity
	result.Stock = stockReport{
		ProductID: productID,
		Initial:   initial,
		Final:     product.Product.Stock,
		Expected:  expected,
		Placed:    stats.placed.Load(),
		SoldOut:   stats.soldOut.Load(),
		Cancelled: stats.cancelled.Load(),
	}
	result.Stock.Consistent = product.Product.Stock == expected && product.Product.Stock >= 0
	return result, nil
}

func prepareProduct(ctx context.Context, client stressClient, cfg config, runID string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if cfg.productID != "" {
		resp, err := client.GetProduct(ctx, &grpcsvc.GetProductRequest{ProductID: cfg.productID})
		if err != nil {
			return "", 0, fmt.Errorf("load product %s: %w", cfg.productID, err)
		}
		return resp.Product.ID, resp.Product.Stock, nil
	}

	ctx = grpcsvc.WithIdempotencyKey(ctx, "stress-product-"+runID)
	resp, err := client.CreateProduct(ctx, &grpcsvc.CreateProductRequest{
		ID:    "stress-" + runID,
		Name:  "Stress " + runID,
		Price: cfg.price.StringFixed(2),
		Stock: cfg.stock,
	})
	if err != nil {
		return "", 0, fmt.Errorf("create product: %w", err)
	}
	return resp.Product.ID, resp.Product.Stock, nil
}

// runScenario оформляет корзину из одного товара. Отказ по остатку считается
// ожидаемым исходом; оплата и отмена выполняются только для созданного заказа.
func runScenario(
	ctx context.Context,
	client stressClient,
	cfg config,
	productID string,
	index int,
	runID string,
	col *collector,
	stats *counters,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	expected := false
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode, expected)
	}()

	var resp *grpcsvc.CheckoutCartResponse
	err := call(ctx, cfg.timeout, fmt.Sprintf("st-checkout-%s-%d", runID, index), "CheckoutCart", col, func(ctx context.Context) error {
		var err error
		resp, err = client.CheckoutCart(ctx, &grpcsvc.CheckoutCartRequest{
			CustomerID: fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
			Items:      []grpcsvc.CartItem{{ProductID: productID, Quantity: cfg.quantity}},
		})
		return err
	})
	if err != nil {
		scenarioCode = grpcCode(err)
		if scenarioCode == codes.FailedPrecondition {
			expected = true
			stats.soldOut.Add(1)
		}
		return err
	}
	if len(resp.Orders) == 0 || resp.Orders[0].Order == nil {
		scenarioCode = codes.Internal
		return errors.New("checkout response returned no orders")
	}
	stats.placed.Add(1)
	orderID := resp.Orders[0].Order.ID

	switch cfg.mode {
	case modeCheckoutPay:
		err = call(ctx, cfg.timeout, fmt.Sprintf("st-pay-%s-%d", runID, index), "ConfirmPayment", col, func(ctx context.Context) error {
			_, err := client.ConfirmPayment(ctx, &grpcsvc.ConfirmPaymentRequest{
				OrderID:      orderID,
				PaymentProof: "stress/" + orderID,
			})
			return err
		})
	case modeCheckoutCancel:
		err = call(ctx, cfg.timeout, fmt.Sprintf("st-cancel-%s-%d", runID, index), "CancelOrder", col, func(ctx context.Context) error {
			_, err := client.CancelOrder(ctx, &grpcsvc.CancelOrderRequest{OrderID: orderID})
			return err
		})
		if err == nil {
			stats.cancelled.Add(1)
		}
	}
	if err != nil {
		scenarioCode = grpcCode(err)
	}
	return err
}

func call(ctx context.Context, timeout time.Duration, key, method string, col *collector, fn func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(grpcsvc.WithIdempotencyKey(ctx, key))
	code := grpcCode(err)
	col.record(method, time.Since(start), code, code == codes.FailedPrecondition && method == "CheckoutCart")
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local stress reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Stress test summary")
	_, _ = fmt.Fprintf(out, "mode=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(out, "stock product=%s initial=%d final=%d expected=%d placed=%d sold_out=%d cancelled=%d consistent=%t\n",
		result.Stock.ProductID,
		result.Stock.Initial,
		result.Stock.Final,
		result.Stock.Expected,
		result.Stock.Placed,
		result.Stock.SoldOut,
		result.Stock.Cancelled,
		result.Stock.Consistent,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioMethod {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
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
