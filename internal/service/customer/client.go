package customer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

const (
	defaultTimeout      = 3 * time.Second
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	maxBodyBytes        = 1 << 20
)

// Client — HTTP-клиент внешнего справочника клиентов (GET {base}/customers/{id}).
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (транспорт всё равно оборачивается otelhttp).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithCircuitBreaker задаёт breaker для вызовов справочника.
func WithCircuitBreaker(breaker *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = breaker
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient создаёт клиента справочника.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("customer api url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse customer api url: %w", err)
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  log.WithField("component", "customer-directory"),
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.http.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c.http.Transport = otelhttp.NewTransport(transport)

	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(defaultMaxFailures, defaultResetTimeout, c.logger)
	}
	return c, nil
}

// Lookup возвращает карточку клиента. Отсутствующий клиент — domain.ErrCustomerNotFound.
func (c *Client) Lookup(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, domain.ErrCustomerRequired
	}

	var (
		result   domain.Customer
		notFound bool
	)
	err := c.breaker.Execute("customer.lookup", func() error {
		var callErr error
		result, notFound, callErr = c.fetch(ctx, customerID)
		return callErr
	})
	if err != nil {
		return domain.Customer{}, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	if notFound {
		return domain.Customer{}, fmt.Errorf("customer %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, customerID string) (domain.Customer, bool, error) {
	endpoint := c.baseURL + "/customers/" + url.PathEscape(customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Customer{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Customer{}, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return domain.Customer{}, true, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.Customer{}, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var customer domain.Customer
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&customer); err != nil {
		return domain.Customer{}, false, fmt.Errorf("decode customer: %w", err)
	}
	if customer.ID == "" {
		customer.ID = customerID
	}
	return customer, false, nil
}

var _ domain.CustomerDirectory = (*Client)(nil)
