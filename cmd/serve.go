package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v2 "rageval/handler/http/v2"
	"rageval/src/infrastructure/job"
	"rageval/src/infrastructure/log"
	"rageval/src/storage/postgres/evalrunctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation API server",
	Long: `The serve command starts an HTTP server that computes precision@k, queues
evaluation runs for the worker and serves their results.`,
	RunE: RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("precision-only", false, "Serve only /precision and /health without Postgres, RabbitMQ or MinIO")
}

func RunServer(cmd *cobra.Command, args []string) error {
	precisionOnly, _ := cmd.Flags().GetBool("precision-only")

	var handler *v2.Handler
	if precisionOnly {
		handler = v2.NewHandler(nil, nil, nil, nil)
	} else {
		h, cleanup, err := newEvaluationHandler(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		handler = h
	}

	// Setup gin router
	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}

func newEvaluationHandler(ctx context.Context) (*v2.Handler, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { closeDB(db) }
	fail := func(err error) (*v2.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	runs, err := evalrunctrl.NewEvaluationRunService(db)
	if err != nil {
		return fail(err)
	}
	if err := runs.AutoMigrate(ctx); err != nil {
		return fail(err)
	}
	jobRepo := job.NewPostgresJobRepository(db)
	if err := jobRepo.AutoMigrate(ctx); err != nil {
		return fail(err)
	}

	minioService, err := newMinioService()
	if err != nil {
		return fail(err)
	}

	m, err := newModels()
	if err != nil {
		return fail(err)
	}
	sdk, err := newWeaviateSDK()
	if err != nil {
		m.Close()
		return fail(err)
	}

	publisher, err := newPublisher()
	if err != nil {
		m.Close()
		return fail(err)
	}
	cleanup = func() {
		if err := publisher.Close(); err != nil {
			log.Error(err, "Failed to close publisher")
		}
		m.Close()
		closeDB(db)
	}

	jobs := job.NewJobService(publisher, jobRepo, log.NewWatermillAdapter())
	submitter := job.NewEvaluationSubmitter(runs, jobs, viper.GetInt("eval.top_k"), m.describe)

	probes := m.probes()
	probes["weaviate"] = sdk.Ready
	probes["minio"] = minioService.Ping
	probes["postgres"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	return v2.NewHandler(submitter, runs, minioService, probes), cleanup, nil
}
