package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rageval/src/infrastructure/job"
	"rageval/src/infrastructure/log"
	"rageval/src/storage/postgres/evalrunctrl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background evaluation worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := log.NewWatermillAdapter()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(db)

	amqpPublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	subscriberConfig.Consume.NoRequeueOnNack = true
	amqpSubscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	minioService, err := newMinioService()
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %v", err)
	}

	runs, err := evalrunctrl.NewEvaluationRunService(db)
	if err != nil {
		return fmt.Errorf("failed to initialize evaluation run service: %v", err)
	}

	m, err := newModels()
	if err != nil {
		return err
	}
	defer m.Close()

	sdk, err := newWeaviateSDK()
	if err != nil {
		return err
	}

	jobRepo := job.NewPostgresJobRepository(db)
	jobService := job.NewJobService(amqpPublisher, jobRepo, logger)
	jobService.Register(job.TaskTypeEvaluation, job.NewEvaluationTask(runEvaluators(m, sdk), runs, minioService, job.EvaluationTaskConfig{
		Bucket:       viper.GetString("minio.bucket"),
		ChunkSize:    viper.GetInt("eval.chunk_size"),
		ChunkOverlap: viper.GetInt("eval.chunk_overlap"),
	}))

	router.AddNoPublisherHandler(
		"job_processor",
		job.Topic,
		amqpSubscriber,
		jobService.ProcessJobMessage,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- router.Run(ctx)
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		log.Info("Shutting down...")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("router stopped: %w", err)
		}
	}

	cancel()
	<-router.Running()
	log.Info("Router stopped")

	return nil
}
