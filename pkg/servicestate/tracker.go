package servicestate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for availability tracking.
var (
	wfsEndpointFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wfs_endpoint_consecutive_failures",
		Help: "Consecutive transport failures recorded per endpoint",
	}, []string{"endpoint"})

	wfsEndpointBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wfs_endpoint_blocks_total",
		Help: "Total number of fetches blocked because an endpoint looked down",
	})
)

// stateTTL bounds how long stale availability state survives in Redis.
const stateTTL = 10 * time.Minute

// Tracker records fetch outcomes per endpoint and gates new fetches.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates an availability tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

func stateKey(endpoint string) string {
	return fmt.Sprintf("wfs:svc:%016x", xxhash.Sum64String(endpoint))
}

// GetState retrieves the recorded state for an endpoint. An endpoint with
// no recorded state is healthy.
func (t *Tracker) GetState(ctx context.Context, endpoint string) (*State, error) {
	data, err := t.redis.Get(ctx, stateKey(endpoint)).Bytes()
	if err == redis.Nil {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse service state: %w", err)
	}
	return &state, nil
}

// RecordFailure notes one transport-level fetch failure for the endpoint.
func (t *Tracker) RecordFailure(ctx context.Context, endpoint string) error {
	state, err := t.GetState(ctx, endpoint)
	if err != nil {
		return err
	}

	state.ConsecutiveFailures++
	state.LastFailure = time.Now()

	wfsEndpointFailures.WithLabelValues(endpoint).Set(float64(state.ConsecutiveFailures))
	if state.ConsecutiveFailures == FailureThresholdBlock {
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("consecutive_failures", state.ConsecutiveFailures).
			Msg("Endpoint crossed block threshold")
	}

	return t.save(ctx, endpoint, state)
}

// RecordSuccess resets the failure count for the endpoint.
func (t *Tracker) RecordSuccess(ctx context.Context, endpoint string) error {
	state, err := t.GetState(ctx, endpoint)
	if err != nil {
		return err
	}

	recovered := state.ConsecutiveFailures >= FailureThresholdBlock
	state.ConsecutiveFailures = 0
	state.LastSuccess = time.Now()

	wfsEndpointFailures.WithLabelValues(endpoint).Set(0)
	if recovered {
		t.logger.Info().Str("endpoint", endpoint).Msg("Endpoint recovered")
	}

	return t.save(ctx, endpoint, state)
}

// ShouldAllowRequest reports whether a new fetch against the endpoint may
// start. Redis errors fail open: an unreachable tracker must not stop
// otherwise healthy fetches.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, endpoint string) (bool, error) {
	state, err := t.GetState(ctx, endpoint)
	if err != nil {
		t.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Availability check failed, allowing request")
		return true, err
	}

	if state.IsBlocked(time.Now()) {
		wfsEndpointBlocksTotal.Inc()
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("consecutive_failures", state.ConsecutiveFailures).
			Msg("Fetch blocked, endpoint looks down")
		return false, nil
	}

	return true, nil
}

func (t *Tracker) save(ctx context.Context, endpoint string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal service state: %w", err)
	}
	if err := t.redis.Set(ctx, stateKey(endpoint), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("save service state: %w", err)
	}
	return nil
}
