package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/quietriver/chatrelay/internal/ai"
	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/config"
	"github.com/quietriver/chatrelay/internal/db"
	"github.com/quietriver/chatrelay/internal/gateway"
	"github.com/quietriver/chatrelay/internal/logger"
	"github.com/quietriver/chatrelay/internal/relay"
	"github.com/quietriver/chatrelay/internal/room"
	"github.com/quietriver/chatrelay/internal/store/rabbitmq"
	"github.com/quietriver/chatrelay/internal/store/redisstore"
)

const (
	maxRetryAttempts = 3
	retryDelay       = 30 * time.Second
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
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, using env upstream config", "err", err)
		rds = nil
	}
	cancel()

	reg := ai.NewRegistry()
	reg.Register("thread", func(p ai.Params) (ai.Provider, error) {
		return ai.NewThreadProvider(p)
	})

	rooms := room.NewRepo(gdb)
	gw := gateway.New(cfg, rds)
	svc := relay.NewService(rooms, reg, "thread", gw, log)
	jobs := relay.NewJobRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", "err", err)
	}
	defer ch.Close()

	// Same declaration as the publisher side; a drifting copy here
	// would close the channel with a precondition failure.
	top := rabbitmq.TopologyFor(cfg.RabbitQueue)
	if err := top.Declare(ch); err != nil {
		log.Fatal("queue declare", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", "err", err)
	}

	msgs, err := ch.Consume(top.Main, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", top.Main, "concurrency", concurrency)

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				err := handleJob(ctx, svc, jobs, m.JobID)
				if err == nil {
					if err := d.Ack(false); err != nil {
						log.Warn("ack failed", "worker", workerID, "job_id", m.JobID, "err", err)
					}
					continue
				}

				// An upstream failure is worth another pass; everything
				// else, or an exhausted job, goes to the dlq.
				if errors.Is(err, common.ErrUpstream) && rabbitmq.Attempts(d) < maxRetryAttempts {
					if rerr := rabbitmq.Requeue(ctx, ch, top, m.JobID, retryDelay); rerr == nil {
						log.Warn("job requeued", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start), "err", err)
						_ = d.Ack(false)
						continue
					}
				}
				log.Warn("job failed", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start), "err", err)
				_ = jobs.MarkFailed(ctx, m.JobID, err.Error())
				_ = d.Nack(false, false)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

// handleJob reruns the upstream call for an existing message row. The
// relay commits the new response into the same row; the job itself
// stores no text, and failure bookkeeping stays with the caller so a
// requeued job is not prematurely marked failed.
func handleJob(ctx context.Context, svc *relay.Service, jobs *relay.JobRepo, jobID string) error {
	_ = jobs.MarkRunning(ctx, jobID)

	j, err := jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	req := relay.Request{
		UserID:     j.UserID,
		RoomID:     j.RoomID,
		UUID:       j.UUID,
		Regenerate: true,
	}
	if _, err := svc.Send(ctx, req, nil); err != nil {
		return err
	}

	return jobs.MarkSucceeded(ctx, jobID)
}
