// Package api provides the HTTP API server for benefit-cost runs.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hdv-bca/db/postgres"
	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	"hdv-bca/decision/pipeline"
	"hdv-bca/decision/summary"
	bcaerrors "hdv-bca/pkg/errors"
	"hdv-bca/pkg/platform"
	"hdv-bca/pkg/units"
)

var version = "0.1.0"

// FleetLoader produces a fresh fleet store for each run.
type FleetLoader func(options map[int]string) (*fleet.Store, error)

// ResultSink persists completed runs.
type ResultSink interface {
	WriteResult(ctx context.Context, res *pipeline.Result) error
}

// RunRecorder tracks run lifecycle outside the process. Get returns nil for
// an unknown run.
type RunRecorder interface {
	Start(ctx context.Context, id uuid.UUID, name string) error
	Finish(ctx context.Context, id uuid.UUID, runErr error) error
	Get(ctx context.Context, id uuid.UUID) (*postgres.RunEntry, error)
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	// MaxCachedRuns bounds the in-memory result cache; the oldest run is evicted first.
	MaxCachedRuns int
	// APIKey, when set, is required in X-API-Key on /api/v1 routes.
	APIKey string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxRequestSize: 1 << 20,
		MaxCachedRuns:  32,
	}
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	config     *Config
	baseline   pipeline.RunConfig
	reference  *inputs.Reference
	loadFleet  FleetLoader
	sink       ResultSink
	recorder   RunRecorder
	logger     zerolog.Logger
	startTime  time.Time

	mu    sync.RWMutex
	runs  map[uuid.UUID]*pipeline.Result
	order []uuid.UUID
}

// NewServer creates a new API server. sink and recorder may be nil.
func NewServer(config *Config, baseline pipeline.RunConfig, ref *inputs.Reference, loadFleet FleetLoader,
	sink ResultSink, recorder RunRecorder, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:    config,
		baseline:  baseline,
		reference: ref,
		loadFleet: loadFleet,
		sink:      sink,
		recorder:  recorder,
		logger:    logger,
		startTime: time.Now(),
		runs:      make(map[uuid.UUID]*pipeline.Result),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/summary", s.handleSummary)
		r.Get("/runs/{id}/weighted", s.handleWeighted)
	})
	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Str("version", version).Msg("starting BCA API server")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	cached := len(s.runs)
	s.mu.RUnlock()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "hdv-bca",
		"version":     version,
		"uptime":      time.Since(s.startTime).String(),
		"cached_runs": cached,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"version": version,
		"service": "hdv-bca",
	})
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

// RunRequest overrides selected settings of the server's baseline configuration.
type RunRequest struct {
	RunName          string    `json:"run_name,omitempty"`
	DiscountRates    []float64 `json:"discount_rates,omitempty"`
	BaseYear         *int      `json:"base_year,omitempty"`
	Timing           string    `json:"timing,omitempty"`
	CalcDeltas       *bool     `json:"calc_deltas,omitempty"`
	CalcPollution    *bool     `json:"calc_pollution_effects,omitempty"`
	WarrantyApproach string    `json:"warranty_cost_approach,omitempty"`
}

// Apply returns base with the request's overrides.
func (req RunRequest) Apply(base pipeline.RunConfig) pipeline.RunConfig {
	cfg := base
	cfg.Options = make(map[int]string, len(base.Options))
	for id, name := range base.Options {
		cfg.Options[id] = name
	}
	if req.RunName != "" {
		cfg.RunName = req.RunName
	}
	if req.DiscountRates != nil {
		cfg.Discounting.SocialRates = append([]float64(nil), req.DiscountRates...)
	}
	if req.BaseYear != nil {
		cfg.Discounting.BaseYear = *req.BaseYear
	}
	if req.Timing != "" {
		cfg.Discounting.Timing = req.Timing
	}
	if req.CalcDeltas != nil {
		cfg.CalcDeltas = *req.CalcDeltas
	}
	if req.CalcPollution != nil {
		cfg.CalcPollution = *req.CalcPollution
	}
	if req.WarrantyApproach != "" {
		cfg.WarrantyApproach = pipeline.WarrantyApproach(req.WarrantyApproach)
	}
	return cfg
}

// RunResponse describes one run. Runs no longer cached carry only the
// registry fields.
type RunResponse struct {
	RunID          string                 `json:"run_id"`
	RunName        string                 `json:"run_name"`
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Cached         bool                   `json:"cached"`
	FleetRecords   int                    `json:"fleet_records,omitempty"`
	SummaryRecords int                    `json:"summary_records,omitempty"`
	StartedAt      string                 `json:"started_at"`
	FinishedAt     string                 `json:"finished_at,omitempty"`
	Stages         []pipeline.StageTiming `json:"stages,omitempty"`
	Config         *pipeline.RunConfig    `json:"config,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	cfg := req.Apply(s.baseline)

	fs, err := s.loadFleet(cfg.Options)
	if err != nil {
		s.jsonError(w, statusFor(err), fmt.Sprintf("failed to load fleet activity: %v", err))
		return
	}
	rc, err := pipeline.NewRunContext(cfg, s.reference, fs, s.logger)
	if err != nil {
		s.jsonError(w, statusFor(err), err.Error())
		return
	}

	ctx := r.Context()
	if s.recorder != nil {
		if err := s.recorder.Start(ctx, rc.ID, cfg.RunName); err != nil {
			s.logger.Warn().Err(err).Msg("failed to register run")
		}
	}
	res, runErr := pipeline.Run(ctx, rc)
	if runErr == nil && s.sink != nil {
		runErr = s.sink.WriteResult(ctx, res)
	}
	if s.recorder != nil {
		if err := s.recorder.Finish(context.WithoutCancel(ctx), rc.ID, runErr); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record run outcome")
		}
	}
	if runErr != nil {
		s.jsonError(w, statusFor(runErr), runErr.Error())
		return
	}

	s.cache(res)
	s.jsonResponse(w, http.StatusCreated, runResponse(res))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]RunResponse, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, runResponse(s.runs[id]))
	}
	s.mu.RUnlock()
	s.jsonResponse(w, http.StatusOK, out)
}

// handleGetRun serves a cached run, falling back to the run registry for
// runs that were evicted or produced by another process.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	s.mu.RLock()
	res, ok := s.runs[id]
	s.mu.RUnlock()
	if ok {
		s.jsonResponse(w, http.StatusOK, runResponse(res))
		return
	}

	if s.recorder != nil {
		entry, err := s.recorder.Get(r.Context(), id)
		if err != nil {
			s.logger.Error().Err(err).Str("run_id", id.String()).Msg("failed to read run registry")
			s.jsonError(w, http.StatusInternalServerError, "failed to read run registry")
			return
		}
		if entry != nil {
			s.jsonResponse(w, http.StatusOK, registryResponse(entry))
			return
		}
	}
	s.jsonError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
}

// SummaryRow is one summary record in API form.
type SummaryRow struct {
	Series       string             `json:"series"`
	OptionID     int                `json:"option_id"`
	OptionName   string             `json:"option_name"`
	CalendarYear int                `json:"calendar_year"`
	Rate         float64            `json:"rate"`
	Periods      int                `json:"periods"`
	Values       map[string]float64 `json:"values"`
	Dollars      map[string]string  `json:"dollars,omitempty"`
}

// handleSummary lists summary records, optionally filtered by series,
// option and rate query parameters.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter, err := parseSummaryFilter(q.Get("series"), q.Get("option"), q.Get("rate"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	schema := res.Fleet.Schema()
	rows := []SummaryRow{}
	for _, rec := range res.Summary.Records() {
		if !filter.match(rec.Key) {
			continue
		}
		row := SummaryRow{
			Series:       string(rec.Key.Series),
			OptionID:     rec.Key.OptionID,
			OptionName:   rec.OptionName,
			CalendarYear: rec.Key.CalendarYear,
			Rate:         rec.Key.Rate,
			Periods:      rec.Periods,
			Values:       rec.Values,
			Dollars:      make(map[string]string),
		}
		for field, v := range rec.Values {
			if schema.IsMonetary(field) {
				row.Dollars[field] = units.Money(v)
			}
		}
		rows = append(rows, row)
	}
	s.jsonResponse(w, http.StatusOK, rows)
}

// WeightedRow is one weighted cost-per-mile record in API form.
type WeightedRow struct {
	SourceTypeID int                `json:"source_type_id"`
	RegClassID   int                `json:"reg_class_id"`
	FuelTypeID   int                `json:"fuel_type_id"`
	OptionID     int                `json:"option_id"`
	ModelYear    int                `json:"model_year"`
	Identifiers  map[string]string  `json:"identifiers"`
	Values       map[string]float64 `json:"values"`
}

func (s *Server) handleWeighted(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rows := []WeightedRow{}
	if res.Weighted != nil {
		for _, rec := range res.Weighted.Records() {
			rows = append(rows, WeightedRow{
				SourceTypeID: rec.Key.Vehicle.SourceTypeID,
				RegClassID:   rec.Key.Vehicle.RegClassID,
				FuelTypeID:   rec.Key.Vehicle.FuelTypeID,
				OptionID:     rec.Key.OptionID,
				ModelYear:    rec.Key.ModelYear,
				Identifiers:  rec.Identifiers,
				Values:       rec.Values,
			})
		}
	}
	s.jsonResponse(w, http.StatusOK, rows)
}

// =============================================================================
// CACHE
// =============================================================================

func (s *Server) cache(res *pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[res.RunID] = res
	s.order = append(s.order, res.RunID)
	for s.config.MaxCachedRuns > 0 && len(s.order) > s.config.MaxCachedRuns {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*pipeline.Result, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}
	s.mu.RLock()
	res, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		s.jsonError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return nil, false
	}
	return res, true
}

// =============================================================================
// HELPERS
// =============================================================================

type summaryFilter struct {
	series summary.Series
	option *int
	rate   *float64
}

func parseSummaryFilter(series, option, rate string) (summaryFilter, error) {
	f := summaryFilter{series: summary.Series(series)}
	switch f.series {
	case "", summary.AnnualValue, summary.PresentValue, summary.AnnualizedValue:
	default:
		return f, fmt.Errorf("unknown series %q", series)
	}
	if option != "" {
		id, err := strconv.Atoi(option)
		if err != nil {
			return f, fmt.Errorf("invalid option %q", option)
		}
		f.option = &id
	}
	if rate != "" {
		v, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return f, fmt.Errorf("invalid rate %q", rate)
		}
		f.rate = &v
	}
	return f, nil
}

func (f summaryFilter) match(k summary.Key) bool {
	if f.series != "" && k.Series != f.series {
		return false
	}
	if f.option != nil && k.OptionID != *f.option {
		return false
	}
	if f.rate != nil && k.Rate != *f.rate {
		return false
	}
	return true
}

func runResponse(res *pipeline.Result) RunResponse {
	cfg := res.Config
	return RunResponse{
		RunID:          res.RunID.String(),
		RunName:        res.RunName,
		Status:         string(postgres.StatusSucceeded),
		Cached:         true,
		FleetRecords:   res.Fleet.Len(),
		SummaryRecords: res.Summary.Len(),
		StartedAt:      res.Audit.StartedAt.Format(time.RFC3339),
		FinishedAt:     res.Audit.FinishedAt.Format(time.RFC3339),
		Stages:         res.Audit.Stages,
		Config:         &cfg,
	}
}

func registryResponse(e *postgres.RunEntry) RunResponse {
	out := RunResponse{
		RunID:     e.ID.String(),
		RunName:   e.Name,
		Status:    string(e.Status),
		Error:     e.Error,
		StartedAt: e.StartedAt.Format(time.RFC3339),
	}
	if e.FinishedAt != nil {
		out.FinishedAt = e.FinishedAt.Format(time.RFC3339)
	}
	return out
}

// statusFor maps run failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case bcaerrors.IsConfigError(err), bcaerrors.HasCode(err, bcaerrors.ErrCodeInvalidInput):
		return http.StatusBadRequest
	case bcaerrors.IsMissingKey(err), bcaerrors.HasCode(err, bcaerrors.ErrCodeDivideByZero):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
