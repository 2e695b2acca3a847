package connector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
)

// RegistryConfig controls fetch fan-out behavior.
type RegistryConfig struct {
	// FetchTimeout bounds every single connector fetch.
	FetchTimeout time.Duration

	// FetchRatePerSecond limits fetch starts; zero disables limiting.
	FetchRatePerSecond float64

	// MaxConcurrentFetches bounds the fan-out; values below 1 mean 1.
	MaxConcurrentFetches int
}

// registeredSource pairs a connector with its breaker and health state.
type registeredSource struct {
	connector  service.Connector
	breaker    *gobreaker.CircuitBreaker
	descriptor entity.SourceDescriptor
}

// sourceRegistry implements service.SourceRegistry. Fetches fan out over
// all registered connectors; a failing connector is skipped for the
// current run and its health recorded, but it stays registered.
type sourceRegistry struct {
	mu      sync.Mutex
	sources map[string]*registeredSource

	config  *RegistryConfig
	logger  *logging.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter
}

// NewSourceRegistry creates an empty source registry.
func NewSourceRegistry(cfg *RegistryConfig, logger *logging.Logger, collector *metrics.Collector) service.SourceRegistry {
	if cfg == nil {
		cfg = &RegistryConfig{
			FetchTimeout:         30 * time.Second,
			MaxConcurrentFetches: 1,
		}
	}

	var limiter *rate.Limiter
	if cfg.FetchRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRatePerSecond), 1)
	}

	return &sourceRegistry{
		sources: make(map[string]*registeredSource),
		config:  cfg,
		logger:  logger.WithComponent("source_registry"),
		metrics: collector,
		limiter: limiter,
	}
}

// Register adds a connector under its name. Names are unique; registering
// a second connector with the same name is rejected.
func (r *sourceRegistry) Register(connector service.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := connector.Name()
	if _, exists := r.sources[name]; exists {
		return errors.Wrapf(entity.ErrDuplicateConnector, "source %q", name)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	r.sources[name] = &registeredSource{
		connector: connector,
		breaker:   breaker,
		descriptor: entity.SourceDescriptor{
			Name:          name,
			ConnectorType: name,
			LastHealth:    entity.SourceUnknown,
		},
	}

	r.logger.Info("Registered data source", logging.String("source", name))
	return nil
}

// Len returns the number of registered sources.
func (r *sourceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Status returns a snapshot of every registered source, name-sorted.
func (r *sourceRegistry) Status() []entity.SourceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]entity.SourceDescriptor, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckSources runs the connection test of every connector that supports
// one and refreshes its health before returning the snapshot. Connectors
// without a test keep their last fetch-derived health.
func (r *sourceRegistry) CheckSources(ctx context.Context) []entity.SourceDescriptor {
	r.mu.Lock()
	checkers := make(map[string]service.HealthChecker, len(r.sources))
	for name, src := range r.sources {
		if hc, ok := src.connector.(service.HealthChecker); ok {
			checkers[name] = hc
		}
	}
	r.mu.Unlock()

	for name, hc := range checkers {
		checkCtx := ctx
		if r.config.FetchTimeout > 0 {
			var cancel context.CancelFunc
			checkCtx, cancel = context.WithTimeout(ctx, r.config.FetchTimeout)
			defer cancel()
		}

		err := hc.TestConnection(checkCtx)

		r.mu.Lock()
		if src := r.sources[name]; src != nil {
			if err != nil {
				src.descriptor.LastHealth = entity.SourceUnhealthy
				src.descriptor.LastError = err.Error()
			} else {
				src.descriptor.LastHealth = entity.SourceHealthy
				src.descriptor.LastError = ""
			}
		}
		r.mu.Unlock()
	}

	return r.Status()
}

// FetchAll fetches from every registered source, bounded by the configured
// concurrency, and aggregates results in source-name order so the combined
// output is deterministic regardless of completion order. A failing source
// contributes nothing; it never fails the whole fan-out.
func (r *sourceRegistry) FetchAll(ctx context.Context) ([]entity.ContractRecord, []entity.SourceDescriptor) {
	r.mu.Lock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	batches := make([][]entity.ContractRecord, len(names))

	group, groupCtx := errgroup.WithContext(ctx)
	limit := r.config.MaxConcurrentFetches
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			batches[i] = r.fetchOne(groupCtx, name)
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = group.Wait()

	var combined []entity.ContractRecord
	for _, batch := range batches {
		combined = append(combined, batch...)
	}
	return combined, r.Status()
}

// fetchOne runs a single connector fetch through the rate limiter and
// circuit breaker, recording health and metrics either way.
func (r *sourceRegistry) fetchOne(ctx context.Context, name string) []entity.ContractRecord {
	r.mu.Lock()
	src := r.sources[name]
	r.mu.Unlock()
	if src == nil {
		return nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.recordFailure(name, err)
			return nil
		}
	}

	fetchCtx := ctx
	if r.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.config.FetchTimeout)
		defer cancel()
	}

	result, err := src.breaker.Execute(func() (interface{}, error) {
		return src.connector.Fetch(fetchCtx)
	})
	if err != nil {
		r.recordFailure(name, err)
		r.logger.Error("Source fetch failed",
			logging.String("source", name),
			logging.Any("error", err.Error()),
		)
		return nil
	}

	records := result.([]entity.ContractRecord)
	r.recordSuccess(name, len(records))
	return records
}

func (r *sourceRegistry) recordSuccess(name string, rows int) {
	now := time.Now().UTC()

	r.mu.Lock()
	if src := r.sources[name]; src != nil {
		src.descriptor.LastFetchTime = &now
		src.descriptor.LastHealth = entity.SourceHealthy
		src.descriptor.LastError = ""
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SourceFetches.WithLabelValues(name, "success").Inc()
		r.metrics.SourceFetchRows.WithLabelValues(name).Add(float64(rows))
	}
}

func (r *sourceRegistry) recordFailure(name string, err error) {
	now := time.Now().UTC()

	r.mu.Lock()
	if src := r.sources[name]; src != nil {
		src.descriptor.LastFetchTime = &now
		src.descriptor.LastHealth = entity.SourceUnhealthy
		src.descriptor.LastError = err.Error()
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SourceFetches.WithLabelValues(name, "failed").Inc()
		r.metrics.SourceFetchErrors.WithLabelValues(name, errorKind(err)).Inc()
	}
}

// errorKind buckets a fetch error for the per-kind failure counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, entity.ErrSourceAuth):
		return "auth"
	case errors.Is(err, entity.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
