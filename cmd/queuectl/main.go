// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quaydock/jobqueue/internal/admin"
	"github.com/quaydock/jobqueue/internal/clock"
	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/obs"
	"github.com/quaydock/jobqueue/internal/producer"
	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/quaydock/jobqueue/internal/reaper"
	"github.com/quaydock/jobqueue/internal/redisclient"
	"github.com/quaydock/jobqueue/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var fromDir string
	var payload string
	var adminCmd string
	var adminQueue string
	var adminJobID string
	var yes bool
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "consume", "Role to run: publish|consume|admin|maintain")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&fromDir, "from-dir", "", "publish role: scan this directory and publish one job per matching file, overriding publisher.scan_dir")
	fs.StringVar(&payload, "payload", "", "publish role: raw payload for a single publish call (ignored with -from-dir)")
	fs.StringVar(&adminCmd, "admin-cmd", "", "admin role: pause|resume|is-paused|retry-failed|remove-job|purge-queue")
	fs.StringVar(&adminQueue, "queue", "", "admin role: queue name (defaults to consumer.queue)")
	fs.StringVar(&adminJobID, "job-id", "", "admin role: job id for retry-failed/remove-job")
	fs.BoolVar(&yes, "yes", false, "admin role: automatic yes to prompts for destructive operations")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	if role != "admin" {
		readyCheck := func(c context.Context) error {
			_, err := rdb.Ping(c).Result()
			return err
		}
		httpSrv := obs.StartHTTPServer(cfg, readyCheck)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	if role != "admin" {
		obs.StartQueueLengthUpdater(ctx, cfg, rdb, logger)
	}

	ops := queue.NewOps(rdb, queue.LoadScripts(), clock.Real{})
	pub := producer.New(cfg, ops, rdb, logger)

	switch role {
	case "publish":
		runPublish(ctx, cfg, pub, logger, fromDir, payload)
	case "consume":
		rep := reaper.New(cfg, ops, logger)
		go rep.Run(ctx)
		c := worker.New(cfg, ops, pub, logger)
		if err := c.Run(ctx, noopHandler); err != nil {
			logger.Fatal("consumer error", obs.Err(err))
		}
	case "maintain":
		reaper.New(cfg, ops, logger).Run(ctx)
	case "admin":
		runAdmin(ctx, ops, rdb, logger, cfg, adminCmd, adminQueue, adminJobID, yes)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

// noopHandler is the library CLI's placeholder job handler: queuectl drives
// the queue's own transport and maintenance loops, not application logic.
// Embedding callers supply their own worker.Handler against Consumer
// directly; this marks every reserved job successful without doing work.
func noopHandler(ctx context.Context, jc *worker.JobContext) error {
	return nil
}

func runPublish(ctx context.Context, cfg *config.Config, pub *producer.Publisher, logger *zap.Logger, fromDir, payload string) {
	if fromDir != "" {
		cfg.Publisher.ScanDir = fromDir
		bulk := producer.NewBulk(pub, cfg, logger)
		if err := bulk.Run(ctx); err != nil {
			logger.Fatal("bulk publish error", obs.Err(err))
		}
		return
	}
	id, err := pub.Publish(ctx, cfg.Publisher.Queue, payload, producer.PublishOptions{})
	if err != nil {
		logger.Fatal("publish error", obs.Err(err))
		return
	}
	fmt.Println(id)
}

func runAdmin(ctx context.Context, ops *queue.Ops, rdb *redis.Client, logger *zap.Logger, cfg *config.Config, cmd, queueName, jobID string, yes bool) {
	if queueName == "" {
		queueName = cfg.Consumer.Queue
	}
	ad := admin.NewAdmin(ops)
	switch cmd {
	case "pause":
		if err := ad.Pause(ctx, queueName); err != nil {
			logger.Fatal("pause error", obs.Err(err))
		}
	case "resume":
		resumed, err := ad.Resume(ctx, queueName)
		if err != nil {
			logger.Fatal("resume error", obs.Err(err))
		}
		fmt.Println(resumed)
	case "is-paused":
		paused, err := ad.IsPaused(ctx, queueName)
		if err != nil {
			logger.Fatal("is-paused error", obs.Err(err))
		}
		fmt.Println(paused)
	case "retry-failed":
		if jobID == "" {
			logger.Fatal("retry-failed requires -job-id")
		}
		if err := ad.RetryFailed(ctx, queueName, jobID); err != nil {
			logger.Fatal("retry-failed error", obs.Err(err))
		}
	case "remove-job":
		if jobID == "" {
			logger.Fatal("remove-job requires -job-id")
		}
		if err := ad.RemoveJob(ctx, queueName, jobID, queue.LaneFailed); err != nil {
			logger.Fatal("remove-job error", obs.Err(err))
		}
	case "purge-queue":
		if !yes {
			logger.Fatal("refusing to purge without -yes")
		}
		n, err := ad.PurgeQueue(ctx, rdb, queueName)
		if err != nil {
			logger.Fatal("purge-queue error", obs.Err(err))
		}
		fmt.Printf("purged %d keys\n", n)
	default:
		logger.Fatal("unknown admin command", obs.String("cmd", cmd))
	}
}
