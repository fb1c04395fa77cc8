package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	v2 "rageval/handler/http/v2"
	"rageval/src/core/evaluation"
	"rageval/src/infrastructure/integrations/ollama"
	"rageval/src/infrastructure/integrations/openai"
	"rageval/src/infrastructure/job"
	"rageval/src/infrastructure/log"
	"rageval/src/storage/minioctrl"
	"rageval/src/storage/rediscache"
	"rageval/src/storage/weaviate"
)

const (
	providerOllama = "ollama"
	providerOpenAI = "openai"
)

type modelClient interface {
	evaluation.Embedder
	evaluation.ChatModel
	Model() string
	Ping(ctx context.Context) error
}

// models holds the three roles of a run; chat and judge may be the same model
type models struct {
	embedder evaluation.Embedder
	chat     modelClient
	judge    modelClient
	cache    *rediscache.EmbeddingCache
	describe string
}

func (m *models) probes() map[string]v2.Probe {
	probes := map[string]v2.Probe{
		"llm": m.chat.Ping,
	}
	if m.cache != nil {
		probes["redis"] = m.cache.Ping
	}
	return probes
}

func (m *models) Close() {
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			log.Error(err, "Failed to close redis client")
		}
	}
}

func newModelClient(model string) (modelClient, error) {
	switch provider := viper.GetString("llm.provider"); provider {
	case providerOllama:
		return ollama.NewClient(viper.GetString("ollama.url"), &http.Client{
			Timeout: viper.GetDuration("ollama.timeout"),
		}, model)
	case providerOpenAI:
		return openai.NewClient(viper.GetString("openai.api_key"), viper.GetString("openai.base_url"), model)
	default:
		return nil, fmt.Errorf("unknown llm.provider %q, want %s or %s", provider, providerOllama, providerOpenAI)
	}
}

func newModels() (*models, error) {
	embedModel := viper.GetString("llm.embedding_model")
	chatModel := viper.GetString("llm.chat_model")
	judgeModel := viper.GetString("llm.judge_model")
	if judgeModel == "" {
		judgeModel = chatModel
	}

	embedClient, err := newModelClient(embedModel)
	if err != nil {
		return nil, err
	}
	chat, err := newModelClient(chatModel)
	if err != nil {
		return nil, err
	}
	judge := chat
	if judgeModel != chatModel {
		if judge, err = newModelClient(judgeModel); err != nil {
			return nil, err
		}
	}

	m := &models{
		embedder: embedClient,
		chat:     chat,
		judge:    judge,
		describe: fmt.Sprintf("provider=%s embed=%s chat=%s judge=%s",
			viper.GetString("llm.provider"), embedModel, chatModel, judgeModel),
	}

	if addr := viper.GetString("redis.addr"); addr != "" {
		cache, err := rediscache.NewEmbeddingCache(addr, viper.GetDuration("redis.ttl"))
		if err != nil {
			return nil, err
		}
		m.cache = cache
		m.embedder = evaluation.NewCachedEmbedder(embedClient, m.cache, embedModel)
		log.Info("Embedding cache enabled", "addr", addr)
	}

	return m, nil
}

func newWeaviateSDK() (*weaviate.SDK, error) {
	wc, err := weaviateClient.NewClient(weaviateClient.Config{
		Host:   viper.GetString("weaviate.host"),
		Scheme: viper.GetString("weaviate.scheme"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return weaviate.NewSDK(wc), nil
}

func newDocumentStore(sdk *weaviate.SDK, className string) (*weaviate.DocumentStore, error) {
	return weaviate.NewDocumentStore(sdk, weaviate.StoreConfig{
		Class:       className,
		Mode:        weaviate.SearchMode(strings.ToLower(viper.GetString("weaviate.search_mode"))),
		MaxDistance: viper.GetFloat64("weaviate.max_distance"),
	})
}

// runEvaluator is a pipeline over the class of one queued run
type runEvaluator struct {
	*evaluation.Pipeline
	store *weaviate.DocumentStore
}

func (r *runEvaluator) Reset(ctx context.Context) error {
	if err := r.store.Reset(ctx); err != nil {
		return err
	}
	log.Info("Dropped run class", "class", r.store.ClassName())
	return nil
}

// runEvaluators gives every run its own class under weaviate.class
func runEvaluators(m *models, sdk *weaviate.SDK) job.EvaluatorFactory {
	base := viper.GetString("weaviate.class")
	return func(runID int64) (job.RunEvaluator, error) {
		store, err := newDocumentStore(sdk, weaviate.RunClass(base, runID))
		if err != nil {
			return nil, err
		}
		pipeline, err := newPipeline(m, store)
		if err != nil {
			return nil, err
		}
		return &runEvaluator{Pipeline: pipeline, store: store}, nil
	}
}

func newPipeline(m *models, store evaluation.DocumentStore) (*evaluation.Pipeline, error) {
	return evaluation.NewPipeline(m.embedder, m.chat, m.judge, store, evaluation.Config{
		TopK:              viper.GetInt("eval.top_k"),
		Concurrency:       viper.GetInt("eval.concurrency"),
		RequestsPerSecond: viper.GetFloat64("eval.requests_per_second"),
	})
}

func openDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error(err, "Failed to get underlying *sql.DB")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error(err, "Error closing database connection")
	}
}

func newMinioService() (*minioctrl.MinioService, error) {
	return minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
}

func newPublisher() (*amqp.Publisher, error) {
	return amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		log.NewWatermillAdapter(),
	)
}
