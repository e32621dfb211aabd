package downloader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/services"
)

// BreakerSettings tunes the per-client circuit breaker.
type BreakerSettings struct {
	// Failures is the number of consecutive transport failures that opens the breaker.
	Failures uint32
	// Cooldown is how long an open breaker rejects calls before probing again.
	Cooldown time.Duration
}

// DefaultBreakerSettings opens after five consecutive failures for two minutes.
var DefaultBreakerSettings = BreakerSettings{Failures: 5, Cooldown: 2 * time.Minute}

// guarded routes Submit, Progress, Remove and Folder through a circuit
// breaker. Only timeouts and transient transport errors count as failures;
// a client that answers with an application error is healthy.
type guarded struct {
	Client
	cb     *gobreaker.CircuitBreaker[any]
	logger *slog.Logger
}

// WithBreaker wraps client in a circuit breaker.
func WithBreaker(client Client, settings BreakerSettings, logger *slog.Logger) Client {
	if settings.Failures == 0 {
		settings.Failures = DefaultBreakerSettings.Failures
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultBreakerSettings.Cooldown
	}
	logger = logging.NewComponentLogger(logger, "downloader").With(logging.String(logging.FieldProvider, client.Name()))
	name := client.Name()
	metrics.BreakerState.WithLabelValues(name).Set(0)

	g := &guarded{Client: client, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, services.ErrTimeout) || errors.Is(err, services.ErrTransient))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			if to == gobreaker.StateOpen {
				logging.WarnWithContext(logger, "download client unreachable, pausing calls", "downloader_breaker_open",
					logging.String("from", from.String()),
					logging.Duration("cooldown", settings.Cooldown),
					logging.String(logging.FieldErrorHint, "check that the client is running and reachable"),
					logging.String(logging.FieldImpact, "submissions and progress checks are skipped until it recovers"),
				)
				return
			}
			logger.Info("download client breaker state changed",
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	})
	return g
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (g *guarded) execute(fn func() (any, error)) (any, error) {
	result, err := g.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.BreakerRequests.WithLabelValues(g.Name(), "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BreakerRequests.WithLabelValues(g.Name(), "rejected").Inc()
		return nil, services.Wrap(services.ErrTransient, g.Name(), "circuit", "client paused after repeated failures", err)
	default:
		metrics.BreakerRequests.WithLabelValues(g.Name(), "failure").Inc()
	}
	return result, err
}

func (g *guarded) Submit(ctx context.Context, job Job) (string, error) {
	result, err := g.execute(func() (any, error) { return g.Client.Submit(ctx, job) })
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

type progressResult struct {
	percent int
	state   string
}

func (g *guarded) Progress(ctx context.Context, id string) (int, string, error) {
	result, err := g.execute(func() (any, error) {
		pct, state, err := g.Client.Progress(ctx, id)
		return progressResult{percent: pct, state: state}, err
	})
	if err != nil {
		return 0, "", err
	}
	p := result.(progressResult)
	return p.percent, p.state, nil
}

func (g *guarded) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	result, err := g.execute(func() (any, error) { return g.Client.Remove(ctx, id, deleteData) })
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Folder delegates to the wrapped client when it can locate downloads.
func (g *guarded) Folder(ctx context.Context, id string) (string, error) {
	locator, ok := g.Client.(FolderLocator)
	if !ok {
		return "", nil
	}
	result, err := g.execute(func() (any, error) { return locator.Folder(ctx, id) })
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// State reports the breaker state name, for status output.
func (g *guarded) State() string { return g.cb.State().String() }
