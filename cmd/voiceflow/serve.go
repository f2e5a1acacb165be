package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/creastat/voiceflow/audio"
	"github.com/creastat/voiceflow/conversation"
	"github.com/creastat/voiceflow/generator"
	"github.com/creastat/voiceflow/internal/config"
	"github.com/creastat/voiceflow/internal/metrics"
	"github.com/creastat/voiceflow/rag"
	"github.com/creastat/voiceflow/recognizer"
	"github.com/creastat/voiceflow/session"
	"github.com/creastat/voiceflow/supabase"
	"github.com/creastat/voiceflow/synth"
	"github.com/creastat/voiceflow/transport"
	"github.com/creastat/voiceflow/vectorstore/qdrant"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the media stream and chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

// services holds what serve must release on exit.
type services struct {
	closers []func() error
}

func (s *services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *services) close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("failed to close service", zap.Error(err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	svc := &services{}
	defer svc.close(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)

	pipeline, err := buildPipeline(cfg, svc, collector, logger)
	if err != nil {
		return err
	}
	registry := conversation.NewRegistry(pipeline)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: transport.NewHandler(transport.Options{
			Registry: registry,
			Metrics:  collector,
			Gatherer: reg,
			Logger:   logger,
		}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not drain", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildPipeline(cfg *config.Config, svc *services, collector *metrics.Collector, logger *zap.Logger) (*conversation.Pipeline, error) {
	pc := cfg.Pipeline
	defaults := conversation.Profile{
		SystemPrompt:      pc.SystemPrompt,
		Voice:             synth.VoiceProfile{Voice: cfg.OpenAI.Voice, Model: cfg.OpenAI.SpeechModel},
		TokenLimit:        pc.TokenLimit,
		MaxResponseTokens: pc.MaxResponseTokens,
		TopK:              pc.TopK,
	}.WithDefaults(conversation.DefaultProfile())

	p := &conversation.Pipeline{
		Config: conversation.Config{
			FlushThreshold: pc.FlushThreshold,
			HistoryCap:     pc.HistoryCap,
			IdleTimeout:    pc.IdleTimeout,
			MailboxSize:    pc.MailboxSize,
			Defaults:       defaults,
		},
		Metrics: collector,
		Logger:  logger,
	}

	if cfg.Audio.FFmpegPath != "" {
		p.Transcoder = audio.NewFFmpegTranscoder(cfg.Audio.FFmpegPath)
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("openai api key not set, replies use fallbacks only")
	} else {
		oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		client := openai.NewClientWithConfig(oc)

		p.Recognizers = recognizer.NewFactory(
			recognizer.NewBatchEngine(recognizer.NewOpenAITranscriber(client, cfg.OpenAI.TranscriptionModel, cfg.OpenAI.Language)),
			logger,
		)
		p.Generator = generator.New(
			generator.NewOpenAICompleter(client, cfg.OpenAI.ChatModel, cfg.OpenAI.Temperature),
			generator.WithTimeout(pc.GenerationTimeout),
			generator.WithLogger(logger),
		)
		p.Synthesizer = synth.New(synth.NewOpenAIEngine(client, defaults.Voice), logger)

		if cfg.Qdrant.URL != "" {
			store, err := qdrant.New(qdrant.Config{
				URL:            cfg.Qdrant.URL,
				CollectionName: cfg.Qdrant.Collection,
				APIKey:         cfg.Qdrant.APIKey,
			})
			if err != nil {
				return nil, err
			}
			svc.onClose(store.Close)
			p.Retriever = rag.NewRetriever(
				rag.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions),
				store,
				rag.WithMinScore(pc.MinScore),
				rag.WithLogger(logger),
			)
		}
	}

	history, err := buildHistory(cfg, svc, logger)
	if err != nil {
		return nil, err
	}
	p.History = history

	if cfg.Supabase.URL != "" {
		client, err := supabase.New(supabase.Config{
			URL:      cfg.Supabase.URL,
			APIKey:   cfg.Supabase.APIKey,
			CacheTTL: cfg.Supabase.CacheTTL,
		})
		if err != nil {
			return nil, err
		}
		svc.onClose(client.Close)
		p.Profiles = supabase.NewDirectory(client, logger)
	}

	return p, nil
}

func buildHistory(cfg *config.Config, svc *services, logger *zap.Logger) (session.Store, error) {
	opts := []session.StoreOption{
		session.WithTTL(cfg.History.TTL),
		session.WithLogger(logger),
	}

	storeType := session.StoreType(cfg.History.Driver)
	if storeType == session.StoreTypeRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, session.WithRedisClient(rdb))
	}

	store, err := session.NewStore(storeType, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create history store: %w", err)
	}
	svc.onClose(store.Close)
	return store, nil
}
