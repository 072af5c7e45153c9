package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Rajankarna/VIDInsight/config"
	"github.com/Rajankarna/VIDInsight/internal/cache"
	"github.com/Rajankarna/VIDInsight/internal/llm"
	"github.com/Rajankarna/VIDInsight/internal/media"
	"github.com/Rajankarna/VIDInsight/internal/pipeline"
	"github.com/Rajankarna/VIDInsight/internal/runtime"
	"github.com/Rajankarna/VIDInsight/internal/store"
	"github.com/Rajankarna/VIDInsight/internal/transcribe"
)

// Run wires the full service together and serves until the listener fails.
func Run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	metrics := runtime.NewMetrics(prometheus.DefaultRegisterer)
	memo := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)

	runner := media.NewRunner()
	acquirer := media.NewAcquirer(runner, cfg.Storage.UploadDir, media.AcquirerOptions{
		Binary:           cfg.YouTube.Binary,
		UserAgent:        cfg.YouTube.UserAgent,
		SleepInterval:    cfg.YouTube.SleepInterval,
		MaxSleepInterval: cfg.YouTube.MaxSleepInterval,
	}, nil)
	extractor := media.NewExtractor(runner, "ffmpeg", nil)

	oaiCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		oaiCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	speech := openai.NewClientWithConfig(oaiCfg)

	asr := transcribe.New(speech, extractor, memo, cfg.OpenAI.ReferenceLanguage, nil,
		transcribe.WithCacheMetrics(
			func() { metrics.CacheHit("transcript") },
			func() { metrics.CacheMiss("transcript") },
		))
	gen := llm.NewEngine(
		llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.ChatModel),
		memo, cfg.OpenAI.MaxOutputTokens, nil,
		llm.WithCacheMetrics(
			func() { metrics.CacheHit("summary") },
			func() { metrics.CacheMiss("summary") },
		))

	pool := pipeline.NewPool(cfg.Pipeline.Workers)
	orch := pipeline.NewOrchestrator(pool, acquirer, asr, gen, st, metrics, pipeline.Timeouts{
		Acquire:    cfg.Pipeline.AcquireTimeout,
		Transcribe: cfg.Pipeline.TranscribeTimeout,
		Generate:   cfg.Pipeline.GenerateTimeout,
	}, nil)

	secret := []byte(cfg.Server.JWTSecret)
	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret, TokenTTL: cfg.Server.TokenTTL}
	auth.Register(api.Group("/auth"))

	videos := &VideosHandler{Store: st, Pipe: orch}
	videos.Register(api.Group("/videos"), secret)

	contact := &ContactHandler{Store: st}
	contact.Register(api)

	admin := &AdminHandler{Store: st}
	admin.Register(api, secret)

	e.Static("/uploads", cfg.Storage.UploadDir)

	janitor := &Janitor{
		Store: st,
		Dir:   cfg.Storage.UploadDir,
		Cron:  cfg.Storage.JanitorCron,
		Grace: cfg.Storage.JanitorGrace,
		Stop:  make(chan struct{}),
	}
	janitor.Start()

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
