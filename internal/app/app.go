package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/labpipe/internal/config"
	"github.com/clinovia/labpipe/internal/core"
	"github.com/clinovia/labpipe/internal/core/archive"
	"github.com/clinovia/labpipe/internal/core/chunkstore"
	db "github.com/clinovia/labpipe/internal/core/database"
	"github.com/clinovia/labpipe/internal/core/extraction"
	objectclient "github.com/clinovia/labpipe/internal/core/object-client"
	"github.com/clinovia/labpipe/internal/core/reaper"
	"github.com/clinovia/labpipe/internal/core/worker"
	"github.com/clinovia/labpipe/internal/logging"
	"github.com/clinovia/labpipe/internal/metrics"
	"github.com/clinovia/labpipe/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Worker       *worker.Worker
	Server       *Server
	Log          *zap.Logger

	gemini *extraction.GeminiProvider
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("object client initialized and ready")

	mc := metrics.NewCollector()

	gemini, err := extraction.NewGeminiProvider(initCtx, cfg.GeminiAPIKey, cfg.GeminiModel, objClient)
	if err != nil {
		return nil, fmt.Errorf("init primary provider: %w", err)
	}

	var secondary core.ExtractionProvider
	if cfg.OpenAIAPIKey != "" {
		secondary, err = extraction.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBase, cfg.OpenAIModel, objClient)
		if err != nil {
			return nil, fmt.Errorf("init secondary provider: %w", err)
		}
	} else {
		logger.Warn("no secondary extraction provider configured; fallback disabled")
	}

	chain := extraction.NewChain(gemini, secondary, logger)
	wrk := worker.New(dbClient, chain, cfg.WorkerSweepInterval, cfg.WorkerPoolSize, logger, mc)

	chunks := chunkstore.NewManager(cfg.ChunkSessionTTL, cfg.ChunkSweepEvery, logger, mc)
	jobs := archive.NewJobStore(cfg.ArchiveJobTTL, cfg.ArchiveJobSweep, logger)

	ingestSvc := services.NewIngestService(dbClient, objClient, wrk, jobs, cfg.BucketName, cfg.ArchiveSyncLimit, logger, mc)
	docSvc := services.NewDocumentService(dbClient, wrk, logger)
	tokenSvc := services.NewTokenService(dbClient)

	reap := reaper.New("", reaper.DefaultPrefixes, cfg.ReaperMaxAge, cfg.ReaperInterval, logger, mc)

	wrk.Start(ctx)
	chunks.Start(ctx)
	jobs.Start(ctx)
	reap.Start(ctx)

	server := NewServer(cfg, logger, ingestSvc, docSvc, tokenSvc, chunks, wrk)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Worker:       wrk,
		Server:       server,
		Log:          logger,
		gemini:       gemini,
	}, nil
}

func (a *App) Close() {
	if a.gemini != nil {
		_ = a.gemini.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
