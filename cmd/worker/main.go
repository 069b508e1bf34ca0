package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/chatcine/chatcine/internal/ai"
	"github.com/chatcine/chatcine/internal/chat"
	"github.com/chatcine/chatcine/internal/config"
	"github.com/chatcine/chatcine/internal/db"
	"github.com/chatcine/chatcine/internal/movies"
	"github.com/chatcine/chatcine/internal/store/rabbitmq"
	"github.com/chatcine/chatcine/internal/store/redisstore"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	repo := chat.NewRepo(gdb)
	// queued jobs are text turns; no transcriber needed here
	svc := chat.NewService(repo, provider, movieSvc, nil, cfg.ChatHistoryLimit, log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wl := log.With(zap.Int("worker", workerID))
			for d := range jobs {
				var m rabbitmq.TurnJob
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					wl.Warn("bad message", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := svc.ProcessJob(ctx, m.JobID); err != nil {
					wl.Error("job failed",
						zap.String("job_id", m.JobID),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				wl.Info("job done",
					zap.String("job_id", m.JobID),
					zap.Duration("cost", time.Since(start)))

				if err := d.Ack(false); err != nil {
					wl.Error("ack failed", zap.String("job_id", m.JobID), zap.Error(err))
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
