package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/prism/prism/internal/auth"
	"github.com/prism/prism/internal/budget"
	"github.com/prism/prism/internal/compressor"
	"github.com/prism/prism/internal/config"
	"github.com/prism/prism/internal/embedding"
	"github.com/prism/prism/internal/intent"
	"github.com/prism/prism/internal/metrics"
	"github.com/prism/prism/internal/optimizer"
	"github.com/prism/prism/internal/prismerr"
	"github.com/prism/prism/internal/scoring"
	"github.com/prism/prism/internal/selector"
	"github.com/prism/prism/internal/vectorstore"
	"github.com/prism/prism/pkg/chunk"
)

// queryRequest is the JSON body of POST /query.
type queryRequest struct {
	Query            string   `json:"query"`
	Budget           int      `json:"budget"`
	CurrentFile      string   `json:"currentFile"`
	CurrentDirectory string   `json:"currentDirectory"`
	RecentFiles      []string `json:"recentFiles"`
	History          []string `json:"history"`
	CandidateLimit   int      `json:"candidateLimit"`
}

func main() {
	fs := pflag.NewFlagSet("prism-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting prism api")

	auth.InitializeAuth(
		cfg.Auth.JwtSecret,
		cfg.Auth.GithubClientID,
		cfg.Auth.GithubClientSecret,
		cfg.Auth.GithubRedirectURL,
		cfg.Auth.GithubAllowedOrg,
		cfg.Auth.Enabled,
	)
	auth.SetLogger(logger)

	ctx := context.Background()

	store, err := buildStore(ctx, cfg.Database, cfg.Dim)
	if err != nil {
		log.Fatalf("failed to build vector store: %v", err)
	}

	tracker := budget.New(budget.Config{DailyNeurons: cfg.Budget.DailyNeurons, WarningThreshold: cfg.Budget.WarningThreshold})

	embedClient, err := buildEmbeddingClient(ctx, cfg, tracker, logger)
	if err != nil {
		log.Fatalf("failed to build embedding client: %v", err)
	}

	usage := scoring.NewUsageTracker()
	scoringSvc := scoring.New(scoring.Config{
		Concurrency: cfg.Scoring.Concurrency,
		CacheTTL:    time.Duration(cfg.Scoring.CacheTTLSec) * time.Second,
		CacheCap:    cfg.Scoring.CacheCap,
		Logger:      logger,
	})
	embeddingLookup := func(chunkID string) ([]float32, bool) {
		vec, ok, err := store.GetEmbedding(ctx, chunkID)
		if err != nil {
			return nil, false
		}
		return vec, ok
	}
	if err := scoring.RegisterDefaultScorers(ctx, scoringSvc, embeddingLookup, usage); err != nil {
		log.Fatalf("failed to register scorers: %v", err)
	}

	sink := metrics.NewAggregatingSink(metrics.NewLogSink(logger))

	opt := optimizer.New(
		intent.New(),
		scoringSvc,
		selector.New(),
		compressor.New(),
		embedClient,
		sink,
		optimizer.Config{
			ResponseReservePct: cfg.Optimizer.ResponseReservePct,
			HistoryPct:         cfg.Optimizer.HistoryPct,
			SystemPreamblePct:  cfg.Optimizer.SystemPreamblePct,
			Logger:             logger,
		},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.IsAuthEnabled()}); err != nil {
			http.Error(w, "failed to encode response", 500)
		}
	})

	if auth.IsAuthEnabled() {
		log.Println("authentication is ENABLED")
		registerAuthRoutes(mux)
	} else {
		log.Println("authentication is DISABLED - running in open mode")
	}

	mux.HandleFunc("/stats", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		used, remaining, pct, resetsAt := tracker.Stats()
		count, origTok, optTok := sink.Totals()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"budget": map[string]any{
				"used": used, "remaining": remaining, "percentage": pct, "resetsAt": resetsAt,
			},
			"savings": map[string]any{
				"queries": count, "originalTokens": origTok, "optimizedTokens": optTok,
			},
		})
	}))

	mux.HandleFunc("/query", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleQuery(w, r, store, embedClient, usage, opt, cfg.Selector.DefaultBudgetTokens)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func handleQuery(
	w http.ResponseWriter,
	r *http.Request,
	store vectorstore.Store,
	embedClient *embedding.Client,
	usage *scoring.UsageTracker,
	opt *optimizer.TokenOptimizer,
	defaultBudget int,
) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.Budget <= 0 {
		req.Budget = defaultBudget
	}
	limit := req.CandidateLimit
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	queryVec, err := embedClient.Embed(ctx, req.Query)
	if err != nil {
		writeOptimizerError(w, err)
		return
	}

	results, err := store.Search(ctx, queryVec, vectorstore.SearchOptions{Limit: limit})
	if err != nil {
		writeOptimizerError(w, err)
		return
	}

	candidates := make([]chunk.Chunk, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, r.Chunk)
	}

	sctx := chunk.ScoringContext{
		CurrentFile:      req.CurrentFile,
		CurrentDirectory: req.CurrentDirectory,
		RecentFiles:      req.RecentFiles,
		UserHistory:      req.History,
		Timestamp:        time.Now(),
	}

	result, err := opt.ReconstructPrompt(ctx, optimizer.Request{
		Query:           req.Query,
		CandidateChunks: candidates,
		Budget:          req.Budget,
		Context:         sctx,
		History:         req.History,
		QueryEmbedding:  queryVec,
	})
	if err != nil {
		writeOptimizerError(w, err)
		return
	}

	for _, cc := range result.Selected {
		usage.RecordAccess(cc.Chunk.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode query response: %v", err)
	}
}

func writeOptimizerError(w http.ResponseWriter, err error) {
	kind, ok := prismerr.KindOf(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case prismerr.KindInvalidQuery:
		status = http.StatusBadRequest
	case prismerr.KindCancelled:
		status = http.StatusRequestTimeout
	case prismerr.KindAuthFailed:
		status = http.StatusUnauthorized
	}
	http.Error(w, err.Error(), status)
}

func buildStore(ctx context.Context, dsn string, dim int) (vectorstore.Store, error) {
	if dsn == "" {
		return vectorstore.NewMemoryStore(0), nil
	}
	pg, err := vectorstore.NewPostgresStore(ctx, dsn, dim)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func buildEmbeddingClient(ctx context.Context, cfg config.Specification, tracker *budget.Tracker, logger zerolog.Logger) (*embedding.Client, error) {
	var primary embedding.Provider
	fallback := embedding.NewLocalProvider(cfg.Dim)

	switch strings.ToLower(cfg.Provider) {
	case "genai", "vertexai", "google":
		p, err := embedding.NewGenAIProvider(ctx, embedding.GenAIConfig{
			APIKey: cfg.APIKey, ProjectID: cfg.ProjectID, Location: cfg.Location,
			Model: cfg.EmbedModel, Dimension: cfg.Dim,
		})
		if err != nil {
			return nil, err
		}
		primary = p
	case "cloudflare":
		primary = embedding.NewCloudflareProvider(embedding.CloudflareConfig{
			AccountID: cfg.CloudflareAccountID, APIToken: cfg.CloudflareAPIToken,
			Model: cfg.EmbedModel, Dimension: cfg.Dim,
		})
	default:
		primary = fallback
		fallback = nil
	}

	return embedding.New(primary, fallback, tracker, embedding.Config{
		BatchSize:       cfg.Embedding.BatchSize,
		MaxTextLength:   cfg.Embedding.MaxTextLength,
		MaxBatchItems:   cfg.Embedding.MaxBatchItems,
		InterBatchDelay: time.Duration(cfg.Embedding.InterBatchDelayMs) * time.Millisecond,
		Logger:          logger,
	}), nil
}

func registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/github", func(w http.ResponseWriter, r *http.Request) {
		state := auth.GenerateState()
		http.SetCookie(w, &http.Cookie{
			Name: "oauth_state", Value: state, Path: "/", MaxAge: 600,
			HttpOnly: true, Secure: strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"), SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, auth.GetGithubLoginURL(state), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		stateCookie, err := r.Cookie("oauth_state")
		if err != nil || stateCookie.Value != state {
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		accessToken, err := auth.ExchangeCodeForToken(code)
		if err != nil {
			http.Error(w, "failed to exchange code for token", http.StatusInternalServerError)
			return
		}

		user, err := auth.GetGithubUser(accessToken)
		if err != nil {
			http.Error(w, "failed to get user info: "+err.Error(), http.StatusInternalServerError)
			return
		}

		token, err := auth.GenerateJWT(user)
		if err != nil {
			http.Error(w, "failed to generate token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name: "auth_token", Value: token, Path: "/", MaxAge: 86400,
			HttpOnly: true, Secure: strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"), SameSite: http.SameSiteLaxMode,
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(auth.AuthResponse{User: *user, Token: token}); err != nil {
			http.Error(w, "failed to encode response", 500)
		}
	})

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		var tokenString string
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}
		if tokenString == "" {
			http.Error(w, "no authentication token", http.StatusUnauthorized)
			return
		}
		user, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(auth.AuthResponse{User: *user, Token: tokenString}); err != nil {
			http.Error(w, "failed to encode response", 500)
		}
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
}
