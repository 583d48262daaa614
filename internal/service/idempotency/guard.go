package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultTTL              = 24 * time.Hour
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	guardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_requests_total",
		Help: "Idempotent requests grouped by outcome.",
	}, []string{"outcome"})
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_deleted_total",
		Help: "Total number of deleted expired idempotency records.",
	})
)

// ErrInProgress — запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

// Failure — закэшированная ошибка исходного вызова, возвращается при повторе.
type Failure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("previous request failed (code %d): %s", f.Code, f.Message)
}

// Classifier переводит ошибку обработчика в код и сообщение для кэша.
type Classifier func(err error) (code int, message string)

// Handler выполняет операцию и возвращает сериализованный ответ.
type Handler func(ctx context.Context) ([]byte, error)

// Options задаёт параметры Guard.
type Options struct {
	Logger          *log.Entry
	TTL             time.Duration
	CleanupInterval time.Duration
	CleanupBatch    int
}

// Option настраивает Guard.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = ttl
	}
}

// WithInterval задаёт интервал между cleanup-циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.CleanupInterval = interval
	}
}

// WithBatchSize задаёт размер batch для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.CleanupBatch = batchSize
	}
}

// Guard гарантирует, что операция с одним idempotency-key выполнится один раз,
// а повторы получат сохранённый результат. Он же удаляет просроченные ключи.
type Guard struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewGuard создаёт Guard поверх хранилища ключей.
func NewGuard(repo domain.IdempotencyRepository, options ...Option) *Guard {
	opts := Options{
		TTL:             defaultTTL,
		CleanupInterval: defaultCleanupInterval,
		CleanupBatch:    defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.CleanupBatch <= 0 {
		opts.CleanupBatch = defaultCleanupBatchSize
	}

	return &Guard{
		repo:      repo,
		logger:    logger,
		ttl:       opts.TTL,
		interval:  opts.CleanupInterval,
		batchSize: opts.CleanupBatch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestHash строит отпечаток запроса: sha256(method + ":" + JSON(req)).
func RequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Do выполняет handler под ключом key. Второй результат true, если ответ взят из кэша.
// Повтор упавшего запроса возвращает *Failure с исходным кодом.
func (g *Guard) Do(ctx context.Context, key, requestHash string, classify Classifier, handler Handler) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		body, replayErr := g.replay(err, record)
		return body, replayErr == nil, replayErr
	}

	body, runErr := handler(ctx)
	if runErr != nil {
		guardRequestsTotal.WithLabelValues("failed").Inc()
		g.storeFailure(ctx, key, runErr, classify)
		return nil, false, runErr
	}

	guardRequestsTotal.WithLabelValues("done").Inc()
	if err := g.repo.MarkDone(ctx, key, body, 0); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return body, false, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) ([]byte, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		guardRequestsTotal.WithLabelValues("hash_mismatch").Inc()
		return nil, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		g.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, fmt.Errorf("create idempotency record: %w", createErr)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		guardRequestsTotal.WithLabelValues("replayed").Inc()
		return record.ResponseBody, nil
	case domain.IdempotencyStatusProcessing:
		guardRequestsTotal.WithLabelValues("in_progress").Inc()
		return nil, ErrInProgress
	case domain.IdempotencyStatusFailed:
		guardRequestsTotal.WithLabelValues("replayed_failure").Inc()
		return nil, decodeFailure(record)
	default:
		return nil, fmt.Errorf("unknown idempotency record status %q", record.Status)
	}
}

func (g *Guard) storeFailure(ctx context.Context, key string, runErr error, classify Classifier) {
	failure := Failure{Code: -1, Message: runErr.Error()}
	if classify != nil {
		failure.Code, failure.Message = classify(runErr)
	}

	payload, err := json.Marshal(failure)
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}
	if err := g.repo.MarkFailed(ctx, key, payload, failure.Code); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeFailure(record domain.IdempotencyRecord) *Failure {
	failure := &Failure{Code: record.StatusCode}
	if len(record.ResponseBody) > 0 {
		_ = json.Unmarshal(record.ResponseBody, failure)
	}
	if failure.Message == "" {
		failure.Message = "previous request with the same idempotency key failed"
	}
	return failure
}

// Run запускает периодическую очистку до отмены ctx.
func (g *Guard) Run(ctx context.Context) {
	if g.repo == nil {
		g.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	g.cleanup(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.cleanup(ctx)
		}
	}
}

func (g *Guard) cleanup(ctx context.Context) {
	deleted, err := g.DeleteExpired(ctx, g.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		g.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	if deleted > 0 {
		g.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize.
func (g *Guard) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = g.now()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := g.repo.DeleteExpired(ctx, before, g.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		cleanupDeletedTotal.Add(float64(deleted))

		if deleted < g.batchSize {
			return total, nil
		}
	}
}
