package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/edisonguo/jet"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackcube/stackcube/cache"
	"github.com/stackcube/stackcube/collection"
	"github.com/stackcube/stackcube/cube"
	"github.com/stackcube/stackcube/metrics"
	"github.com/stackcube/stackcube/stac"
	"github.com/stackcube/stackcube/storage"
	"github.com/stackcube/stackcube/utils"
)

type service struct {
	mu        sync.RWMutex
	cfg       *utils.Config
	manifests map[string]*collection.Manifest

	stacClient *stac.Client
	reader     storage.SourceReader
	backend    cache.Backend
	pg         *collection.PGIndex
	provider   *metrics.Provider
	templates  *jet.Set
	logger     zerolog.Logger
}

// cubeRequest is the body of POST /v1/cubes.
type cubeRequest struct {
	Collection string     `json:"collection"`
	SRS        string     `json:"srs"`
	BBox       [4]float64 `json:"bbox"`
	Dx         float64    `json:"dx"`
	Dy         float64    `json:"dy"`
	Start      string     `json:"start"`
	End        string     `json:"end"`
	Dt         string     `json:"dt"`
	Agg        string     `json:"aggregation"`
	Resampling string     `json:"resampling"`

	Bands          []string `json:"bands"`
	Expression     string   `json:"expression"`
	ExpressionBand string   `json:"expression_band"`
	Reduce         []string `json:"reduce"`

	Format      string `json:"format"`
	Band        string `json:"band"`
	Slice       int    `json:"slice"`
	MaxFeatures int    `json:"max_features"`
}

func main() {
	configFile := flag.String("c", "config.json", "config file path")
	flag.Parse()

	cfg, err := utils.LoadConfigFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.ServiceConfig.Verbose)

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("service init failed")
	}

	utils.WatchConfig(*configFile, func(next *utils.Config) {
		if err := svc.reload(next); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		}
	})

	srv := &http.Server{
		Addr:    cfg.ServiceConfig.Address,
		Handler: svc.router(),
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info().Str("address", cfg.ServiceConfig.Address).Msg("cube service listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newService(cfg *utils.Config, logger zerolog.Logger) (*service, error) {
	sc := &cfg.ServiceConfig

	manifests := make(map[string]*collection.Manifest)
	if len(sc.ManifestDir) > 0 {
		var err error
		manifests, err = collection.LoadAllManifests(sc.ManifestDir)
		if err != nil {
			return nil, err
		}
	}

	reader, err := newSourceReader(sc)
	if err != nil {
		return nil, err
	}

	backend, err := newCacheBackend(&cfg.Cache)
	if err != nil {
		return nil, err
	}

	var pg *collection.PGIndex
	if len(sc.PGConnStr) > 0 {
		pg, err = collection.OpenPGIndex(context.Background(), sc.PGConnStr, sc.PGPoolSize)
		if err != nil {
			return nil, err
		}
	}

	templateDir := sc.TemplateDir
	if len(templateDir) == 0 {
		templateDir = "templates"
	}

	return &service{
		cfg:        cfg,
		manifests:  manifests,
		stacClient: stac.NewClient(sc.STACEndpoint),
		reader:     reader,
		backend:    backend,
		pg:         pg,
		provider:   metrics.NewProvider(sc.MetricsPrefix),
		templates:  jet.NewHTMLSet(templateDir),
		logger:     logger,
	}, nil
}

func newSourceReader(sc *utils.ServiceConfig) (storage.SourceReader, error) {
	if len(sc.WorkerNodes) > 0 {
		return storage.NewRPCReader(sc.WorkerNodes)
	}

	opts := []storage.GridOption{
		storage.WithRetries(sc.ReadRetries),
		storage.WithVerbose(sc.Verbose),
		storage.WithFetcher("http", storage.NewHTTPFactory(nil)),
		storage.WithFetcher("https", storage.NewHTTPFactory(nil)),
	}
	if s3Factory, err := storage.NewS3Factory(context.Background(), nil); err == nil {
		opts = append(opts, storage.WithFetcher("s3", s3Factory))
	}
	return storage.NewGridReader(opts...), nil
}

func newCacheBackend(cc *utils.CacheConfig) (cache.Backend, error) {
	switch cc.Backend {
	case "", "lru":
		return cache.NewLRUBackend(cc.Size)
	case "memcache":
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("memcache cache backend needs servers")
		}
		return cache.NewMemcacheBackend(int32(cc.TTLSeconds), cc.Servers...), nil
	case "redis":
		return cache.NewRedisBackendURI(cc.URI, time.Duration(cc.TTLSeconds)*time.Second)
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
}

func (s *service) reload(cfg *utils.Config) error {
	manifests := make(map[string]*collection.Manifest)
	if len(cfg.ServiceConfig.ManifestDir) > 0 {
		var err error
		manifests, err = collection.LoadAllManifests(cfg.ServiceConfig.ManifestDir)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.manifests = manifests
	s.mu.Unlock()
	s.logger.Info().Int("collections", len(manifests)).Msg("config reloaded")
	return nil
}

func (s *service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)

	r.Get("/", s.handleCatalog)
	r.Get("/v1/collections", s.handleCollections)
	r.Get("/v1/collections/{name}/index", s.handleIndex)
	r.Post("/v1/cubes", s.handleCube)
	r.Method("GET", "/metrics", s.provider.Handler())
	return r
}

func (s *service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()
		w.Header().Set("X-Request-Id", reqID)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		s.provider.ObserveRequest(r.Method, r.URL.Path, ww.Status(), elapsed)
		s.logger.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (s *service) handleCatalog(w http.ResponseWriter, r *http.Request) {
	t, err := s.templates.GetTemplate("catalog.jet")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("template error: %v", err))
		return
	}

	s.mu.RLock()
	manifests := make([]*collection.Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		manifests = append(manifests, m)
	}
	s.mu.RUnlock()

	vars := make(jet.VarMap)
	if err := t.Execute(w, vars, manifests); err != nil {
		s.logger.Error().Err(err).Msg("catalog template render failed")
	}
}

func (s *service) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.manifests))
	for name := range s.manifests {
		names = append(names, name)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": names})
}

// handleIndex serves the persisted image index of a collection.
func (s *service) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.pg == nil {
		writeError(w, http.StatusNotFound, "no collection index database configured")
		return
	}
	name := chi.URLParam(r, "name")
	ic, err := s.pg.Load(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection": ic.Name,
		"bands":      ic.Bands(),
		"entries":    ic.Entries,
	})
}

func (s *service) handleCube(w http.ResponseWriter, r *http.Request) {
	var req cubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	s.mu.RLock()
	m, found := s.manifests[req.Collection]
	cfg := s.cfg
	s.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", req.Collection))
		return
	}

	view, err := buildView(&req, m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.buildCube(r.Context(), &req, m, view, cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if cube.IsConfigError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	s.serveCube(w, r, &req, c)
}

func buildView(req *cubeRequest, m *collection.Manifest) (*cube.View, error) {
	srs := req.SRS
	if len(srs) == 0 {
		srs = m.DefaultSRS
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return nil, &cube.ConfigError{Field: "start", Reason: err.Error()}
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return nil, &cube.ConfigError{Field: "end", Reason: err.Error()}
	}
	dt, err := cube.ParseStep(req.Dt)
	if err != nil {
		return nil, err
	}

	agg := cube.Aggregation(req.Agg)
	if len(req.Agg) == 0 {
		agg = cube.AggMedian
	}
	res := cube.Resampling(req.Resampling)
	if len(req.Resampling) == 0 {
		res = cube.ResNearest
	}

	extent := cube.Extent{Left: req.BBox[0], Bottom: req.BBox[1], Right: req.BBox[2], Top: req.BBox[3]}
	return cube.NewView(srs, extent, req.Dx, req.Dy, start, end, dt, agg, res)
}

func (s *service) buildCube(ctx context.Context, req *cubeRequest, m *collection.Manifest, view *cube.View, cfg *utils.Config) (cube.Cube, error) {
	q := &stac.Query{
		Collection: m.STACCollection,
		BBox:       req.BBox[:],
		TimeRange:  req.Start + "/" + req.End,
	}
	features, err := s.stacClient.SearchAll(ctx, q, req.MaxFeatures)
	if err != nil {
		return nil, err
	}

	ic, err := collection.Build(features, m.BuildOptions())
	if err != nil {
		return nil, err
	}

	if s.pg != nil {
		if err := s.pg.Save(ctx, ic); err != nil {
			s.logger.Error().Err(err).Str("collection", ic.Name).Msg("collection index save failed")
		}
	}

	sc := &cfg.ServiceConfig
	opts := []cube.BuilderOption{
		cube.WithChunkSize(sc.ChunkSize[0], sc.ChunkSize[1], sc.ChunkSize[2]),
		cube.WithWorkers(sc.Workers),
		cube.WithObserver(s.provider.Engine),
	}
	if len(m.MaskBand) > 0 {
		opts = append(opts, cube.WithMask(cube.MaskSpec{Band: m.MaskBand, Values: m.MaskValues}))
	}

	c, err := cube.Build(ic, view, s.reader, opts...)
	if err != nil {
		return nil, err
	}

	if len(req.Bands) > 0 {
		if c, err = cube.SelectBands(c, req.Bands...); err != nil {
			return nil, err
		}
	}
	if len(req.Expression) > 0 {
		band := req.ExpressionBand
		if len(band) == 0 {
			band = "result"
		}
		if c, err = cube.ApplyPixel(c, band, req.Expression); err != nil {
			return nil, err
		}
	}
	if len(req.Reduce) > 0 {
		if c, err = cube.ReduceTime(c, req.Reduce...); err != nil {
			return nil, err
		}
	}

	if s.backend != nil {
		c = cache.Wrap(c, s.backend, s.provider.Engine)
	}
	return c, nil
}

func (s *service) serveCube(w http.ResponseWriter, r *http.Request, req *cubeRequest, c cube.Cube) {
	format := strings.ToLower(req.Format)
	if len(format) == 0 {
		format = "grid"
	}

	tmp, err := os.CreateTemp("", "stackcube-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	s.mu.RLock()
	workers := s.cfg.ServiceConfig.Workers
	s.mu.RUnlock()

	switch format {
	case "grid":
		if err := cube.ExportGridFile(r.Context(), c, tmp.Name(), workers); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.grid"`, req.Collection))
	case "png":
		band := req.Band
		if len(band) == 0 && len(c.Bands()) > 0 {
			band = c.Bands()[0]
		}
		if err := cube.ExportPNG(r.Context(), c, band, req.Slice, tmp.Name()); err != nil {
			status := http.StatusInternalServerError
			if cube.IsConfigError(err) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}

	http.ServeFile(w, r, tmp.Name())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
