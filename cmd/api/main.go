package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chatcine/chatcine/internal/ai"
	"github.com/chatcine/chatcine/internal/chat"
	"github.com/chatcine/chatcine/internal/config"
	"github.com/chatcine/chatcine/internal/db"
	"github.com/chatcine/chatcine/internal/httpapi"
	"github.com/chatcine/chatcine/internal/httpapi/handlers"
	"github.com/chatcine/chatcine/internal/movies"
	"github.com/chatcine/chatcine/internal/speech"
	"github.com/chatcine/chatcine/internal/store/rabbitmq"
	"github.com/chatcine/chatcine/internal/store/redisstore"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	provider, err := ai.New(cfg.AIProvider, ai.Options{
		GroqBaseURL:   cfg.GroqBaseURL,
		GroqAPIKey:    cfg.GroqAPIKey,
		GroqModel:     cfg.GroqModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		log.Fatal("ai provider", zap.Error(err))
	}

	tmdb := movies.NewTMDBClient(cfg.TMDBBaseURL, cfg.TMDBAPIKey, cfg.TMDBLanguage)
	movieSvc := movies.NewService(tmdb, rds, cfg.MovieCacheTTL, cfg.ImageBaseURL, log)

	// transcription is optional; the turn pipeline reports audio as
	// unsupported when it is absent
	var transcriber chat.Transcriber
	if gt, err := speech.NewGoogleTranscriber(context.Background(), cfg.SpeechLanguage); err != nil {
		log.Warn("speech transcription disabled", zap.Error(err))
	} else {
		transcriber = gt
		defer gt.Close()
	}

	repo := chat.NewRepo(gdb)
	chatSvc := chat.NewService(repo, provider, movieSvc, transcriber, cfg.ChatHistoryLimit, log)

	var rabbit *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		rabbit, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("async processing disabled", zap.Error(err))
		} else {
			defer rabbit.Close()
		}
	}

	h := handlers.NewHandler(gdb, cfg, log, chatSvc, movieSvc, rabbit)
	router := httpapi.NewRouter(h, cfg, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
