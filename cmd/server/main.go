package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/partypen/go-backend/internal/api"
	"github.com/danielpatrickdp/partypen/go-backend/internal/archive"
	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
	"github.com/danielpatrickdp/partypen/go-backend/internal/memory"
	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
	"github.com/danielpatrickdp/partypen/go-backend/internal/news"
	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
	"github.com/danielpatrickdp/partypen/go-backend/internal/verify"
)

// #region main
func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	dbPath := envOr("PARTYPEN_DB", "partypen.db")
	addr := envOr("PARTYPEN_ADDR", ":8080")
	grpcAddr := envOr("MODEL_GRPC_ADDR", "localhost:50051")
	apiKey := os.Getenv("GEMINI_API_KEY")

	// Structured event log
	zcfg := zap.NewProductionConfig()
	if os.Getenv("PARTYPEN_DEBUG") != "" {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	sink := logging.NewZapSink(logger, 1024)
	defer sink.Close()

	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	mem, err := memory.NewPhraseMemory(st.DB())
	if err != nil {
		return fmt.Errorf("failed to init phrase memory: %w", err)
	}

	// Model backends: Gemini for gemini-* models, the inference service for the rest
	grpcClient, err := model.NewGRPCClient(grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to model service at %s: %w", grpcAddr, err)
	}
	defer grpcClient.Close()

	routes := []model.Route{}
	if apiKey != "" {
		genaiClient, err := model.NewGenAIClient(context.Background(), apiKey)
		if err != nil {
			return err
		}
		routes = append(routes, model.Route{Name: "gemini", Prefix: "gemini-", Generator: genaiClient})
	}
	routes = append(routes, model.Route{Name: "grpc", Generator: grpcClient})
	router := model.NewRouter(model.DefaultRouterConfig(), routes...)

	if path := os.Getenv("PARTYPEN_PLATFORMS"); path != "" {
		names, err := prompt.LoadPlatformFile(path)
		if err != nil {
			return err
		}
		log.Printf("[SERVER] platforms loaded from %s: %s", path, strings.Join(names, ", "))
	}

	rcfg := ranker.DefaultConfig()
	verifier := verify.New(router, st, verify.DefaultConfig(rcfg.HeavyModel))
	if acfg := archive.DefaultConfig(); acfg.Enabled() {
		arc, err := archive.NewBlobArchive(acfg)
		if err != nil {
			return err
		}
		verifier.WithArchive(arc)
	}

	newsCfg := news.DefaultConfig()
	var fetcher *news.Fetcher
	if newsCfg.Enabled {
		fetcher = news.NewFetcher(newsCfg)
	}

	svc := api.NewService(api.Deps{
		Store:    st,
		Ranker:   ranker.New(router, rcfg, sink),
		Quota:    quota.NewGate(st, quota.DefaultConfig()),
		Verifier: verifier,
		Memory:   mem,
		Fetcher:  fetcher,
		News:     newsCfg,
		Sink:     sink,
		Config:   api.DefaultConfig(),
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, svc)

	var origins []string
	for _, o := range strings.Split(os.Getenv("PARTYPEN_CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.CORSMiddleware(mux, origins...),
		ReadHeaderTimeout: 10 * time.Second,
		// generation can take light + heavy + direct timeouts, plus one retry
		WriteTimeout: 2*(rcfg.LightTimeout+rcfg.HeavyTimeout+rcfg.DirectTimeout) + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] listening on %s | DB: %s | model: %s | gemini=%v news=%v",
			addr, dbPath, grpcAddr, apiKey != "", fetcher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[SERVER] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if n := sink.Dropped(); n > 0 {
		log.Printf("[SERVER] %d events dropped", n)
	}
	return nil
}

// #endregion

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion
