// Package server wires the HTTP API: the production room, history,
// preview, files, and step-executor endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mohammad-safakhou/callsheet/config"
	"github.com/mohammad-safakhou/callsheet/internal/agent"
	"github.com/mohammad-safakhou/callsheet/internal/engine"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
	"github.com/mohammad-safakhou/callsheet/internal/preview"
	"github.com/mohammad-safakhou/callsheet/internal/producer"
	"github.com/mohammad-safakhou/callsheet/internal/store"
	"github.com/mohammad-safakhou/callsheet/internal/tools"
)

// DefaultProject is used when the client does not thread a ?project=
// query parameter.
const DefaultProject = "default"

// Run starts the API server and blocks until shutdown.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[MIGRATE] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	} else {
		log.Printf("[PREVIEW] redis not configured, preview state kept in memory")
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return err
	}

	toolReg := tools.NewRegistry(
		tools.NewClipTool(cfg.Tools),
		tools.NewVoiceoverTool(cfg.Tools, cfg.LLM.APIKey),
		tools.NewImageTool(cfg.Tools),
		tools.NewRenderTool(cfg.Tools),
	)
	registry := agent.NewRegistry(toolReg.Schemas())

	eng := &engine.Engine{
		LLM:    client,
		Events: st,
		Tools:  toolReg,
		Logger: log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
	}

	manifests := &producer.ManifestStore{DB: st}
	prod := producer.New(manifests, eng, registry, st,
		log.New(log.Writer(), "[PRODUCER] ", log.LstdFlags),
		cfg.Producer.StepTimeout, cfg.Producer.StrictCompletion)
	go prod.Run(ctx)

	sync := preview.New(rdb)

	api := e.Group("/api")
	(&RoomHandler{Store: st, Registry: registry, Engine: eng, Manifests: manifests, Producer: prod, Preview: sync}).Register(api)
	(&HistoryHandler{Store: st, Manifests: manifests, Preview: sync}).Register(api)
	(&PreviewHandler{Store: st, Preview: sync}).Register(api)
	(&FilesHandler{Tools: cfg.Tools}).Register(api)
	(&ProducerHandler{Producer: prod, Manifests: manifests}).Register(api)
	(&RenderHandler{Store: st, Tools: toolReg, Preview: sync}).Register(api)

	e.Static("/renders", cfg.Tools.RendersDir)
	e.Static("/assets", cfg.Tools.WorkDir)

	if addr == "" {
		addr = cfg.General.Listen
	}

	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()
	log.Printf("listening on %s", addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		log.Printf("received %s, shutting down", s)
	}
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return e.Shutdown(shutdownCtx)
}

// projectID extracts the project from the query string, falling back
// to the shared default room.
func projectID(c echo.Context) string {
	if p := c.QueryParam("project"); p != "" {
		return p
	}
	return DefaultProject
}
