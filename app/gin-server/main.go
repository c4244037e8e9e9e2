package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/config"
	"github.com/lokeshkhabiya/round0/internal/api/handlers"
	"github.com/lokeshkhabiya/round0/internal/api/middleware"
	"github.com/lokeshkhabiya/round0/internal/api/routes"
	"github.com/lokeshkhabiya/round0/internal/cache"
	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/logger"
	"github.com/lokeshkhabiya/round0/internal/media"
	"github.com/lokeshkhabiya/round0/internal/providers/evaluator"
	"github.com/lokeshkhabiya/round0/internal/providers/llm"
	"github.com/lokeshkhabiya/round0/internal/providers/stt"
	mongorepo "github.com/lokeshkhabiya/round0/internal/repositories/mongo"
	pgrepo "github.com/lokeshkhabiya/round0/internal/repositories/postgres"
	"github.com/lokeshkhabiya/round0/internal/services"
	"github.com/lokeshkhabiya/round0/internal/storage"
	"github.com/lokeshkhabiya/round0/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if os.Getenv("DB_AUTO_MIGRATE") == "true" {
		if err := config.AutoMigratePostgres(config.PostgresDB); err != nil {
			log.WithError(err).Fatal("PostgreSQL migrate error")
		}
	}
	log.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Providers
	gemini, err := llm.NewVertexGemini(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.LLMModel)
	if err != nil {
		log.WithError(err).Fatal("vertex ai init error")
	}
	defer gemini.Close()

	speech, err := stt.NewGoogleSpeech(ctx, os.Getenv("STT_ENCODING"), 0)
	if err != nil {
		log.WithError(err).Fatal("speech init error")
	}
	defer speech.Close()

	uploader, err := storage.NewGCSUploader(ctx, cfg.GCSBucket)
	if err != nil {
		log.WithError(err).Fatal("gcs init error")
	}
	defer uploader.Close()

	// Repositories
	db := config.PostgresDB
	mdb := config.MongoDatabase()
	rounds := pgrepo.NewRoundRepo(db)
	evaluations := pgrepo.NewEvaluationRepo(db)
	recordings := pgrepo.NewRecordingRepo(db)
	mentorRepo := pgrepo.NewMentorRepo(db)
	transcriptRepo := mongorepo.NewTranscriptRepo(mdb)

	publisher := events.NewRedisPublisher(config.RedisClient)

	// Services
	pipeline := media.NewPipeline(uploader, recordings, log, media.Options{
		Workers:     cfg.Policy.UploadWorkers,
		QueueSize:   cfg.Policy.UploadQueueSize,
		MaxAttempts: cfg.Policy.UploadMaxAttempts,
		BaseBackoff: cfg.Policy.UploadBaseBackoff,
	})

	ctrl := services.NewRoundController(services.RoundControllerDeps{
		Verifier:    services.NewTokenVerifier(cfg.InterviewTokenSecret, rounds, cache.NewRedisCache(config.RedisClient, "round0:")),
		Evaluator:   services.NewEvaluationService(evaluator.NewLLMJudge(gemini), cfg.Policy.EvaluationTimeout),
		Transcript:  services.NewTranscriptService(transcriptRepo, publisher, log),
		Media:       pipeline,
		Rounds:      rounds,
		Evaluations: evaluations,
		Publisher:   publisher,
		Policy:      cfg.Policy,
		Logger:      log,
	})
	mentorSvc := services.NewMentorService(mentorRepo, gemini, log)

	// not tied to the signal context so Stop can drain the queue
	pipeline.Start(context.Background())

	audio := &workers.AudioWorkerPool{
		Redis:          config.RedisClient,
		Rounds:         ctrl,
		STT:            speech,
		NumWorkers:     cfg.Policy.AudioWorkers,
		Logger:         log,
		ConsumerPrefix: consumerPrefix(),
	}
	if err := audio.Start(ctx); err != nil {
		log.WithError(err).Fatal("audio workers init error")
	}

	// Start Gin server
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Interview: handlers.NewInterviewHandler(ctrl),
		Mentor:    handlers.NewMentorHandler(mentorSvc),
		WS:        handlers.NewWSHandler(ctrl, publisher, log),
		Rounds:    ctrl,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	shutdown(log, srv, pipeline, audio)
}

func shutdown(log *logrus.Logger, srv *http.Server, pipeline *media.Pipeline, audio *workers.AudioWorkerPool) {
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	// drains queued uploads
	pipeline.Stop()
	audio.Wait()

	_ = config.RedisClient.Close()
	if config.MongoClient != nil {
		_ = config.MongoClient.Disconnect(sctx)
	}
	if sqlDB, err := config.PostgresDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func consumerPrefix() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "c"
}
