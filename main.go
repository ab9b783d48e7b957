package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/api"
	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/cache"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/db"
	"github.com/samjaninf/stelace-sub000/internal/email"
	"github.com/samjaninf/stelace-sub000/internal/logging"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/realtime"
	"github.com/samjaninf/stelace-sub000/internal/scheduler"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/storage"
	"github.com/samjaninf/stelace-sub000/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			logrus.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()
	if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
		logrus.Fatalf("Failed to create indexes: %v", err)
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			logrus.WithError(err).Error("Error disconnecting from Redis")
		}
	}()

	var provider payment.Provider
	switch cfg.PaymentProvider {
	case "sandbox":
		provider = payment.NewSandboxProvider()
	default:
		logrus.Fatalf("Unsupported payment provider: %s", cfg.PaymentProvider)
	}

	// Image uploads and assessment photos are disabled without a bucket.
	var objectStore storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		if objectStore, err = storage.NewS3Storage(ctx, cfg); err != nil {
			logrus.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	} else {
		logrus.Warn("AWS_S3_BUCKET not set, image storage disabled")
	}

	emailSender, err := email.NewSender(cfg, redisClient)
	if err != nil {
		logrus.Fatalf("Failed to initialize email sender: %v", err)
	}
	pushSender := push.NewSender(mongoDb, cfg)
	publisher := realtime.NewRedisPublisher(redisClient)

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()

	svc, err := services.NewContainer(services.Deps{
		DB:        mongoDb,
		Config:    cfg,
		Locker:    cache.NewRedisLocker(redisClient, cfg.BookingLockTTL, cfg.BookingLockWait),
		Provider:  provider,
		Storage:   objectStore,
		Notifier:  tasks.NewNotifier(taskClient),
		Publisher: publisher,
		Redis:     redisClient,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize services: %v", err)
	}
	if err := svc.Settings.Load(ctx); err != nil {
		logrus.Fatalf("Failed to load settings: %v", err)
	}

	taskProcessor := tasks.NewTaskProcessor(cfg, emailSender, svc.EmailTemplates, svc.Users, pushSender, publisher,
		svc.Bookings, svc.Ratings, svc.Listings, objectStore)

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logrus.WithError(err).Errorf("%s stopped with error", name)
			}
		}()
	}

	goRun("settings subscriber", func() error { return svc.Settings.Subscribe(ctx) })

	shutdownChan := make(chan struct{}, 1)

	// The service API runs in every mode.
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, redisClient, shutdownChan),
	}
	goRun("service API", func() error {
		logrus.Infof("Service API listening on :%s", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var (
		mainApiSrv  *http.Server
		rateLimiter *middleware.RateLimiterMiddleware
		workerSrv   *asynq.Server
		sched       *scheduler.Scheduler
	)

	logrus.Infof("Starting application in '%s' mode", cfg.RunMode)

	apiMode := func() {
		hub := realtime.NewHub(cfg.CorsAllowedOrigins)
		goRun("realtime hub", func() error { hub.Run(ctx); return nil })
		goRun("realtime listener", func() error { return hub.Listen(ctx, redisClient) })

		rateLimiter = middleware.NewRateLimiterMiddleware(cfg)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: api.SetupRouter(cfg, svc, hub, pushSender, rateLimiter),
		}
		goRun("main API", func() error {
			logrus.Infof("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	workerMode := func(bgWorker, imageWorker bool) {
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, bgWorker, imageWorker)
		if srv == nil {
			return
		}
		workerSrv = srv
		if err := workerSrv.Start(mux); err != nil {
			logrus.Fatalf("Failed to start task server: %v", err)
		}
		logrus.WithFields(logrus.Fields{"background": bgWorker, "images": imageWorker}).Info("Task server started")

		if bgWorker {
			if sched, err = scheduler.New(cfg, taskClient); err != nil {
				logrus.Fatalf("Failed to configure scheduler: %v", err)
			}
			sched.Start()
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		workerMode(true, false)
	case "img":
		workerMode(false, true)
	case "all":
		apiMode()
		workerMode(true, true)
	default:
		logrus.Fatalf("Invalid run mode: %s", cfg.RunMode)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logrus.Infof("Received signal %s, shutting down", sig)
	case <-shutdownChan:
		logrus.Info("Shutdown requested via service API")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logrus.WithError(err).Error("Main API shutdown error")
		}
	}
	if rateLimiter != nil {
		rateLimiter.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
	if workerSrv != nil {
		workerSrv.Shutdown()
	}
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		logrus.WithError(err).Error("Service API shutdown error")
	}

	// Stops the hub, its Redis listener and the settings subscriber.
	cancel()
	wg.Wait()
	logrus.Info("Server gracefully stopped")
}
