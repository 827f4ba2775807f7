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

	"github.com/codechat-app/backend/internal/chat"
	"github.com/codechat-app/backend/internal/config"
	"github.com/codechat-app/backend/internal/db"
	"github.com/codechat-app/backend/internal/files"
	"github.com/codechat-app/backend/internal/logger"
	"github.com/codechat-app/backend/internal/storage"
	"github.com/codechat-app/backend/internal/store/redisstore"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

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
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("database connection failed", "err", err)
	}

	store, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCDNDomain)
	if err != nil {
		log.Fatal("storage client failed", "err", err)
	}

	var cache *redisstore.Store
	if cfg.RedisAddr != "" {
		cache = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}

	repo := chat.NewRepo(gdb)
	fileSvc := files.NewService(repo, store, cache, log.With("service", "files"))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial failed", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel failed", "err", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil); err != nil {
		log.Fatal("queue declare failed", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos failed", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume failed", "err", err)
	}

	log.Info("cleanup worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					wlog.Error("bad message", "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, repo, fileSvc, m.JobID); err != nil {
					wlog.Error("cleanup job failed", "job_id", m.JobID, "cost", time.Since(start), "err", err)
					_ = d.Nack(false, false)
					continue
				}
				wlog.Info("cleanup job done", "job_id", m.JobID, "cost", time.Since(start))

				if err := d.Ack(false); err != nil {
					wlog.Error("ack failed", "job_id", m.JobID, "err", err)
				}
			}
		}(i)
	}

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

func handleJob(ctx context.Context, repo *chat.Repo, fileSvc *files.Service, jobID string) error {
	_ = repo.MarkCleanupJobRunning(ctx, jobID)

	j, err := repo.GetCleanupJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := fileSvc.ClearSession(ctx, j.SessionID); err != nil {
		_ = repo.MarkCleanupJobFailed(ctx, jobID, err.Error())
		return err
	}

	return repo.MarkCleanupJobSucceeded(ctx, jobID)
}
