package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/db"
	"github.com/suPer8Hu/commerce-chat/internal/logging"
	"github.com/suPer8Hu/commerce-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/commerce-chat/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)

	var tokenCache channel.TokenCache
	if rs, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.JWTSecret); err == nil {
		if err := rs.Ping(ctx); err == nil {
			defer rs.Close()
			tokenCache = rs
		} else {
			log.WithError(err).Warn("redis unreachable, zalo tokens cached in memory")
			_ = rs.Close()
		}
	}

	rt, err := chat.Build(ctx, cfg, gdb, tokenCache)
	if err != nil {
		log.WithError(err).Fatal("build pipeline")
	}
	defer rt.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.WithError(err).Fatal("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Fatal("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.WithError(err).Fatal("queue declare")
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.WithError(err).Fatal("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.WithError(err).Fatal("consume")
	}

	log.WithFields(log.Fields{"queue": cfg.RabbitQueue, "concurrency": concurrency}).Info("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, rt.Service, workerID, d)
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
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, svc *chat.Service, workerID int, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.WithError(err).WithField("worker", workerID).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}

	logger := log.WithFields(log.Fields{"worker": workerID, "job_id": m.JobID})
	start := time.Now()
	if err := svc.HandleJob(ctx, m.JobID); err != nil {
		// dead-lettered to the dlq
		logger.WithError(err).WithField("cost", time.Since(start)).Error("job failed")
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		logger.WithError(err).Warn("ack failed")
	}
}
