package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/kv"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
)

// Worker drains the sync queue and mirrors ledger mutations to the GitHub
// repository. Throttling happens here, not at publish time, so local writes
// are never slowed down by remote API rate limits.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if !cfg.RemoteSyncConfigured() {
		log.Fatal("remote sync not configured: set GITHUB_OWNER, GITHUB_REPO and GITHUB_TOKEN")
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisKV := kv.NewRedis(cfg.RedisAddr, "")
		if !redisKV.Healthy(ctx) {
			log.Printf("WARNING: redis not reachable at %s, messages will wait", cfg.RedisAddr)
		}
		q = queue.NewRedisQueue(redisKV.Client, "")
	} else {
		// An in-memory queue in a separate process never sees API traffic.
		log.Println("WARNING: in-memory queue selected; run the worker in the API process or switch QUEUE_BACKEND=redis")
		q = queue.NewInMemory(64)
	}

	client := remote.New(cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubBranch, cfg.GitHubToken)
	mirror := remote.NewMirror(client, cfg.GitHubDataDir)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("sync worker started, mirroring to %s/%s", cfg.GitHubOwner, cfg.GitHubRepo)
	var lastSync time.Time
	for msg := range messages {
		if msg.Type != "checkin" && msg.Type != "checkout" {
			continue
		}

		var evt remote.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad sync message: %v", err)
			continue
		}

		// Keep a floor between remote calls regardless of event rate.
		if wait := cfg.SyncThrottle - time.Since(lastSync); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				log.Println("worker stopped")
				return
			}
		}
		lastSync = time.Now()

		if err := mirror.Apply(ctx, evt); err != nil {
			// Best effort: the local ledger already holds the record.
			log.Printf("remote sync failed for %s %s: %v", evt.Action, evt.StudentID, err)
			metrics.SyncTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.SyncTotal.WithLabelValues("ok").Inc()
		log.Printf("mirrored %s for %s (%s %s)", evt.Action, evt.StudentID, evt.SessionCode, evt.Date)
	}

	log.Println("worker stopped")
}
