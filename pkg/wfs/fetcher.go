package wfs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	wfsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_requests_total",
		Help: "Total page requests by layer and status",
	}, []string{"layer", "status"})

	wfsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wfs_request_duration_seconds",
		Help:    "Page request duration in seconds by layer",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"layer"})

	wfsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_errors_total",
		Help: "Total page request errors by class",
	}, []string{"class"})

	wfsFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_fetches_total",
		Help: "Total fetch operations by layer and outcome",
	}, []string{"layer", "outcome"})

	wfsFeaturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_features_fetched_total",
		Help: "Total feature records fetched by layer",
	}, []string{"layer"})
)

// fetchPhase tracks where the controller is in its page loop.
type fetchPhase int

const (
	phaseIdle fetchPhase = iota
	phaseFetching
	phaseRetrying
	phaseCompleted
	phaseFailed
	phaseCancelled
)

func (p fetchPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseFetching:
		return "fetching"
	case phaseRetrying:
		return "retrying"
	case phaseCompleted:
		return "completed"
	case phaseFailed:
		return "failed"
	case phaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Config holds fetcher configuration.
type Config struct {
	// Transport sends page requests. Defaults to an HTTP transport with a
	// 30 second timeout.
	Transport Transport

	// Retry is the per-page retry policy.
	Retry RetryConfig

	// MaxPageSize caps QuerySpec.PageSize. Zero means DefaultMaxPageSize.
	MaxPageSize int

	// UserAgent is sent by the default transport.
	UserAgent string

	// OnPage, when set, observes the running collection after every
	// accepted page. The collection must not be retained or mutated.
	OnPage func(pageIndex int, c *FeatureCollection)
}

// Fetcher drives paginated GetFeature retrieval. A single Fetcher may run
// any number of concurrent fetches; all per-fetch state is local to the
// Fetch call.
type Fetcher struct {
	transport   Transport
	retry       RetryConfig
	maxPageSize int
	onPage      func(int, *FeatureCollection)
	logger      zerolog.Logger
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(30*time.Second, cfg.UserAgent)
	}
	maxPageSize := cfg.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Fetcher{
		transport:   transport,
		retry:       cfg.Retry.withDefaults(),
		maxPageSize: maxPageSize,
		onPage:      cfg.OnPage,
		logger:      log.With().Str("component", "wfs-fetcher").Logger(),
	}
}

// fetchState is the bookkeeping for one fetch operation. It is created at
// fetch start, destroyed at fetch end, and never shared across fetches.
type fetchState struct {
	phase        fetchPhase
	nextOffset   int
	pagesFetched int

	// fingerprints maps page content hashes to the offset they were first
	// served at, for the stagnation guard.
	fingerprints map[uint64]int
}

// Fetch runs the page loop for spec and returns the assembled collection.
//
// One page request is outstanding at a time; the transport call is the
// only suspension point. Cancellation via ctx is honored between page
// requests and during backoff; an in-flight request is not force-aborted
// beyond what the transport itself does with the context.
//
// On failure the returned error is a *FetchError carrying the page count
// and the partial records as diagnostics.
func (f *Fetcher) Fetch(ctx context.Context, spec QuerySpec) (*FeatureCollection, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(f.maxPageSize); err != nil {
		return nil, err
	}

	logger := f.logger.With().Str("layer", spec.Layer).Logger()
	st := &fetchState{phase: phaseIdle, fingerprints: make(map[uint64]int)}
	coll := NewFeatureCollection()
	start := time.Now()

	fail := func(phase fetchPhase, err error) (*FeatureCollection, error) {
		st.phase = phase
		wfsFetchesTotal.WithLabelValues(spec.Layer, phase.String()).Inc()
		logger.Warn().
			Err(err).
			Int("pages_fetched", st.pagesFetched).
			Str("state", phase.String()).
			Msg("Fetch aborted")
		return nil, &FetchError{Err: err, PagesFetched: st.pagesFetched, Partial: coll}
	}

	for {
		// Cancellation is checked before issuing the next request, never
		// mid-flight.
		if err := ctx.Err(); err != nil {
			return fail(phaseCancelled, fmt.Errorf("%w: %v", ErrCancelled, err))
		}

		st.phase = phaseFetching
		req := BuildPageRequest(spec, st.nextOffset)
		logger.Debug().
			Int("offset", st.nextOffset).
			Int("page", st.pagesFetched).
			Msg("Requesting page")

		page, err := f.fetchPageWithRetry(ctx, st, spec, req, logger)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return fail(phaseCancelled, err)
			}
			return fail(phaseFailed, err)
		}

		fp := page.Fingerprint()
		if prevOffset, seen := st.fingerprints[fp]; seen && prevOffset != st.nextOffset && len(page.Records) > 0 {
			return fail(phaseFailed, fmt.Errorf(
				"%w: page at offset %d repeats content first served at offset %d",
				ErrStagnantPagination, st.nextOffset, prevOffset))
		}
		st.fingerprints[fp] = st.nextOffset

		if err := coll.Fold(page); err != nil {
			// CRS mismatch and schema drift are data-integrity failures;
			// continuing would assemble a silently corrupt collection.
			return fail(phaseFailed, err)
		}

		st.pagesFetched++
		wfsFeaturesTotal.WithLabelValues(spec.Layer).Add(float64(len(page.Records)))

		if f.onPage != nil {
			f.onPage(page.PageIndex, coll)
		}

		returned := len(page.Records)
		// Advance by what the service actually returned: a short page
		// must not make the next request skip or repeat records.
		st.nextOffset += returned

		if !page.HasMore || returned == 0 {
			break
		}
	}

	st.phase = phaseCompleted
	wfsFetchesTotal.WithLabelValues(spec.Layer, "completed").Inc()
	logger.Info().
		Int("pages", st.pagesFetched).
		Int("features", coll.Len()).
		Int("merged", coll.Merged()).
		Str("crs", coll.CRS()).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return coll, nil
}

// fetchPageWithRetry requests one page, retrying transient failures with
// jittered exponential backoff. The request description is re-sent
// unchanged for the same offset on every attempt.
func (f *Fetcher) fetchPageWithRetry(ctx context.Context, st *fetchState, spec QuerySpec, req PageRequest, logger zerolog.Logger) (*Page, error) {
	backoff := f.retry.InitialBackoff
	if backoff > f.retry.MaxBackoff {
		backoff = f.retry.MaxBackoff
	}
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		page, class, err := f.fetchPageOnce(ctx, spec, req, st.pagesFetched, logger)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Int("offset", req.Offset).
					Msg("Page fetch succeeded after retry")
			}
			return page, nil
		}

		lastErr, lastClass = err, class

		if !shouldRetry(class, err) {
			return nil, err
		}
		if attempt >= f.retry.MaxAttempts {
			break
		}

		st.phase = phaseRetrying
		wfsRetriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter so parallel fetches against one service spread out.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		wfsRetryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Int("offset", req.Offset).
			Dur("backoff", jitter).
			Msg("Retrying page after backoff")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * f.retry.BackoffMultiplier)
		if backoff > f.retry.MaxBackoff {
			backoff = f.retry.MaxBackoff
		}
	}

	wfsRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", f.retry.MaxAttempts).
		Int("offset", req.Offset).
		Msg("Page retry budget exhausted")

	// A body that never parses surfaces as what it is, not as a
	// transport problem.
	if errors.Is(lastErr, ErrMalformedResponse) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTransportExhausted, f.retry.MaxAttempts, lastErr)
}

// fetchPageOnce performs a single page attempt and classifies its outcome.
func (f *Fetcher) fetchPageOnce(ctx context.Context, spec QuerySpec, req PageRequest, pageIndex int, logger zerolog.Logger) (*Page, ErrorClass, error) {
	start := time.Now()
	resp, err := f.transport.Send(ctx, req)
	wfsRequestDuration.WithLabelValues(req.Layer).Observe(time.Since(start).Seconds())

	if err != nil {
		wfsRequestsTotal.WithLabelValues(req.Layer, "network_error").Inc()
		wfsErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		logger.Warn().
			Err(err).
			Str("kind", transportErrorKind(err)).
			Int("offset", req.Offset).
			Msg("Page request failed")
		return nil, ErrorClassNetwork, fmt.Errorf("send page request: %w", err)
	}

	wfsRequestsTotal.WithLabelValues(req.Layer, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		wfsErrorsTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Int("offset", req.Offset).
			Msg("Page request error")
		return nil, class, &ServiceError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    serviceErrorMessage(resp),
		}
	}

	page, err := ParsePage(resp.Body, spec, pageIndex, req.Offset)
	if err != nil {
		class := ErrorClassParse
		if errors.Is(err, ErrUnsupportedGeometry) {
			class = ErrorClassClient
		}
		wfsErrorsTotal.WithLabelValues(string(class)).Inc()
		return nil, class, err
	}

	return page, "", nil
}
