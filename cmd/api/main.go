package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/552020/futura-alpha-icp-sub003/internal/api"
	"github.com/552020/futura-alpha-icp-sub003/internal/authz"
	"github.com/552020/futura-alpha-icp-sub003/internal/blobregistry"
	"github.com/552020/futura-alpha-icp-sub003/internal/capsule"
	"github.com/552020/futura-alpha-icp-sub003/internal/chunkstore"
	"github.com/552020/futura-alpha-icp-sub003/internal/clockid"
	"github.com/552020/futura-alpha-icp-sub003/internal/config"
	"github.com/552020/futura-alpha-icp-sub003/internal/database"
	"github.com/552020/futura-alpha-icp-sub003/internal/engine"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
	"github.com/552020/futura-alpha-icp-sub003/internal/memorystore"
	"github.com/552020/futura-alpha-icp-sub003/internal/uploadsession"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	l := logger.NewLogger("core")

	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	chunks, err := chunkstore.New(chunkstore.Config{
		BasePath:     cfg.ChunkStoragePath,
		DataShards:   cfg.ErasureDataShards,
		ParityShards: cfg.ErasureParityShards,
	}, l)
	if err != nil {
		log.Fatalf("failed to initialize chunk store: %v", err)
	}

	blobFloor, err := blobregistry.RecoverIDFloor(context.Background(), db)
	if err != nil {
		log.Fatalf("failed to recover blob id floor: %v", err)
	}
	sessionFloor, err := uploadsession.RecoverIDFloor(context.Background(), rdb)
	if err != nil {
		log.Fatalf("failed to recover session id floor: %v", err)
	}

	clock := clockid.SystemClock{}
	blobIDs := clockid.NewBlobIDSource(blobFloor)
	sessionIDs := clockid.NewSessionIDSource(sessionFloor)

	blobs := blobregistry.New(db, blobIDs, clock)
	sessions := uploadsession.New(rdb, chunks, sessionIDs, clock, uploadsession.Config{
		IdleTTL:       cfg.SessionIdleTTL,
		IdemRetention: cfg.IdemRetention,
		MaxChunks:     cfg.MaxChunksPerSession,
	}, l)
	memories := memorystore.New(db, blobs, chunks, clock)
	capsules := capsule.NewRegistry(db)

	eng := engine.New(engine.Config{
		Sessions:            sessions,
		Chunks:              chunks,
		Blobs:               blobs,
		Memories:            memories,
		Capsules:            capsules,
		Authz:               authz.New(authz.AllowAll),
		UploadRatePerSecond: cfg.UploadRateLimitPerSecond,
		Logger:              l,
	})

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go sessions.RunSweeper(sweepCtx, time.Minute)

	server := api.NewServer(cfg, eng, l)
	l.Info("server starting on port " + cfg.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
}
