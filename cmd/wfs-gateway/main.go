// wfs-gateway exposes a paginated WFS endpoint as plain HTTP: one request
// per layer returns the fully assembled feature collection, with paging,
// retries and CRS checking handled server-side.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lkgis/wfs-fetch/pkg/cache"
	"github.com/lkgis/wfs-fetch/pkg/dbstats"
	"github.com/lkgis/wfs-fetch/pkg/logging"
	"github.com/lkgis/wfs-fetch/pkg/servicestate"
	"github.com/lkgis/wfs-fetch/pkg/stamp"
	"github.com/lkgis/wfs-fetch/pkg/wfs"
)

type gateway struct {
	transport wfs.Transport
	caps      *wfs.CapabilitiesClient
	tracker   *servicestate.Tracker
	stats     *dbstats.Recorder
	endpoint  string
	crs       string
	pageSize  int
	username  string
	password  string
	logger    zerolog.Logger
}

func main() {
	// .env is optional; set environment variables win.
	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
	})
	logger := logging.NewLogger("wfs-gateway")

	endpoint := getEnv("WFS_ENDPOINT", "")
	if endpoint == "" {
		logger.Fatal().Msg("WFS_ENDPOINT is required")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_URL", "localhost:6379"),
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	pageSize, _ := strconv.Atoi(getEnv("WFS_PAGE_SIZE", "1000"))
	transport := wfs.NewHTTPTransport(30*time.Second, getEnv("USER_AGENT", "wfs-fetch/0.1.0"))

	gw := &gateway{
		transport: transport,
		caps:      wfs.NewCapabilitiesClient(transport, cache.NewManager(redisClient)),
		tracker:   servicestate.NewTracker(redisClient, logger),
		endpoint:  endpoint,
		crs:       getEnv("WFS_TARGET_CRS", "EPSG:25832"),
		pageSize:  pageSize,
		username:  getEnv("WFS_USERNAME", ""),
		password:  getEnv("WFS_PASSWORD", ""),
		logger:    logger,
	}

	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		stats, err := dbstats.Connect(ctx, dsn, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer stats.Close()
		gw.stats = stats
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/layers", gw.handleLayers)
	r.Get("/layers/{layer}", gw.handleFetch)

	addr := ":" + getEnv("PORT", "8080")
	logger.Info().Str("addr", addr).Str("endpoint", endpoint).Msg("Starting gateway")

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// handleLayers lists the feature types the upstream service advertises.
func (g *gateway) handleLayers(w http.ResponseWriter, r *http.Request) {
	caps, err := g.caps.Capabilities(r.Context(), g.endpoint)
	if err != nil {
		g.logger.Error().Err(err).Msg("Capabilities request failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"layers":[`))
	for i, ft := range caps.FeatureTypes {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write([]byte(strconv.Quote(ft.Name)))
	}
	w.Write([]byte(`]}`))
}

// handleFetch runs a full paginated fetch for one layer and streams the
// assembled collection back as GeoJSON.
func (g *gateway) handleFetch(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layer")

	allowed, err := g.tracker.ShouldAllowRequest(r.Context(), g.endpoint)
	if err == nil && !allowed {
		http.Error(w, "upstream service temporarily blocked", http.StatusServiceUnavailable)
		return
	}

	spec := wfs.QuerySpec{
		Endpoint:  g.endpoint,
		Layer:     layer,
		TargetCRS: g.crs,
		PageSize:  g.pageSize,
		Username:  g.username,
		Password:  g.password,
	}
	if bboxParam := r.URL.Query().Get("bbox"); bboxParam != "" {
		bbox, err := parseBBox(bboxParam, g.crs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		spec.BBox = bbox
	}

	pages := 0
	fetcher := wfs.New(wfs.Config{
		Transport: g.transport,
		Retry:     wfs.DefaultRetryConfig(),
		OnPage:    func(int, *wfs.FeatureCollection) { pages++ },
	})

	// One stamp per request: the run_id written to the statistics table and
	// the run_id on the returned features must join.
	runStamp := stamp.New()
	coll, err := fetcher.Fetch(r.Context(), spec)
	g.recordRun(r.Context(), runStamp, layer, pages, coll, err)
	if err != nil {
		if upstreamFailure(err) {
			g.tracker.RecordFailure(r.Context(), g.endpoint)
		}
		g.logger.Error().Err(err).Str("layer", layer).Msg("Fetch failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.tracker.RecordSuccess(r.Context(), g.endpoint)

	if err := runStamp.Apply(coll); err != nil {
		g.logger.Warn().Err(err).Str("layer", layer).Msg("Stamping failed")
	}

	body, err := coll.MarshalGeoJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(body)
}

func (g *gateway) recordRun(ctx context.Context, runStamp stamp.Stamp, layer string, pages int, coll *wfs.FeatureCollection, fetchErr error) {
	if g.stats == nil {
		return
	}
	if err := g.stats.Record(ctx, g.buildJobRun(runStamp, layer, pages, coll, fetchErr)); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to record job run")
	}
}

func (g *gateway) buildJobRun(runStamp stamp.Stamp, layer string, pages int, coll *wfs.FeatureCollection, fetchErr error) dbstats.JobRun {
	run := dbstats.JobRun{
		RunID:      runStamp.RunID,
		Endpoint:   g.endpoint,
		Layer:      layer,
		StartedAt:  runStamp.FetchedAt,
		FinishedAt: time.Now(),
		Pages:      pages,
		Outcome:    "success",
	}
	if coll != nil {
		run.Features = coll.Len()
	}
	if fetchErr != nil {
		run.Outcome = "failed"
		run.ErrorClass = errorClass(fetchErr)
		var fe *wfs.FetchError
		if errors.As(fetchErr, &fe) {
			run.Pages = fe.PagesFetched
			if fe.Partial != nil && fe.Partial.Len() > 0 {
				run.Outcome = "partial"
				run.Features = fe.Partial.Len()
			}
		}
	}
	return run
}

// upstreamFailure reports whether a fetch error means the service itself
// is failing. Query and data-consistency errors stay out of the endpoint
// failure count, so one bad layer cannot block a healthy service.
func upstreamFailure(err error) bool {
	return errors.Is(err, wfs.ErrTransportExhausted)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, wfs.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, wfs.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, wfs.ErrCRSMismatch):
		return "crs_mismatch"
	case errors.Is(err, wfs.ErrSchemaDrift):
		return "schema_drift"
	case errors.Is(err, wfs.ErrStagnantPagination):
		return "stagnant_pagination"
	case errors.Is(err, wfs.ErrTransportExhausted):
		return "transport_exhausted"
	case errors.Is(err, wfs.ErrCancelled):
		return "cancelled"
	default:
		return "other"
	}
}

// parseBBox reads "minx,miny,maxx,maxy" and pins it to the gateway CRS.
func parseBBox(s, crs string) (*wfs.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.New("bbox must be minx,miny,maxx,maxy")
	}
	coords := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("bbox must be minx,miny,maxx,maxy")
		}
		coords[i] = v
	}
	return &wfs.BBox{MinX: coords[0], MinY: coords[1], MaxX: coords[2], MaxY: coords[3], CRS: crs}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
