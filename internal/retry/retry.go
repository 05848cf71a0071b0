// Package retry wraps outbound provider calls with classification,
// fixed per-class backoff, and a bounded attempt count. Nothing here
// ever propagates an error upward: every path ends in either a real
// response or a degraded outcome carrying an apology for the user.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/internal/observability"
)

// Config controls the controller.
type Config struct {
	// MaxAttempts is the total number of calls, first try included.
	MaxAttempts int

	// Delays maps each transient class to its fixed backoff.
	Delays map[llm.ErrorClass]time.Duration

	// Apologies maps each class to the user-facing degraded message.
	Apologies map[llm.ErrorClass]string

	// Metrics counts failed attempts by class; nil disables counting.
	Metrics *observability.Metrics
}

// DefaultConfig returns the stock delays and apology strings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		Delays: map[llm.ErrorClass]time.Duration{
			llm.ClassRateLimited: 20 * time.Second,
			llm.ClassTimeout:     5 * time.Second,
			llm.ClassConnection:  5 * time.Second,
			llm.ClassServer:      10 * time.Second,
		},
		Apologies: map[llm.ErrorClass]string{
			llm.ClassRateLimited: "You're asking a bit too quickly. Give me a moment and ask again.",
			llm.ClassTimeout:     "I didn't hear back in time. Please ask again.",
			llm.ClassConnection:  "I couldn't reach the network. Please try again later.",
			llm.ClassServer:      "The model service hit a snag. Please ask again.",
			llm.ClassFatal:       "Something went wrong, so I've reset our conversation. Please try again.",
		},
	}
}

// Validate fills zero-valued fields from DefaultConfig.
func (c *Config) Validate() {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.Delays == nil {
		c.Delays = defaults.Delays
	}
	if c.Apologies == nil {
		c.Apologies = defaults.Apologies
	}
}

// Outcome is the result of a controlled call. Exactly one of Response
// or Degraded describes it: a degraded outcome carries the apology
// text and zero usage, and the caller should clear the session so a
// corrupt context cannot poison later turns.
type Outcome struct {
	Response *llm.Response
	Degraded bool
	Class    llm.ErrorClass
	Apology  string
}

// Controller retries provider calls per Config.
type Controller struct {
	config Config
	logger *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller.
func NewController(config Config, logger *slog.Logger) *Controller {
	config.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		config: config,
		logger: logger.With("component", "retry"),
		sleep:  sleepCtx,
	}
}

// Do invokes fn until it succeeds, a fatal error is classified, the
// attempt budget is spent, or ctx is done. The loop is iterative with
// an explicit 0-based attempt counter.
func (c *Controller) Do(ctx context.Context, sessionID string, fn func(ctx context.Context) (*llm.Response, error)) Outcome {
	var class llm.ErrorClass

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return Outcome{Response: resp}
		}

		class = llm.Classify(err)
		c.logger.Warn("provider call failed",
			"session_id", sessionID,
			"attempt", attempt,
			"class", string(class),
			"error", err)
		c.config.Metrics.RecordRetry(string(class))

		if !class.IsRetryable() {
			break
		}
		if attempt+1 >= c.config.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.config.Delays[class]); err != nil {
			// Canceled mid-backoff; surface as the class we were
			// retrying rather than inventing a new one.
			break
		}
	}

	return Outcome{
		Degraded: true,
		Class:    class,
		Apology:  c.apology(class),
	}
}

func (c *Controller) apology(class llm.ErrorClass) string {
	if msg, ok := c.config.Apologies[class]; ok {
		return msg
	}
	return c.config.Apologies[llm.ClassFatal]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
