package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/mem-go/pkg/memory"
	"github.com/theapemachine/mem-go/pkg/metrics"
	"github.com/theapemachine/mem-go/pkg/provider"
	"github.com/theapemachine/mem-go/pkg/service"
	"github.com/theapemachine/mem-go/pkg/stores/neo4j"
	"github.com/theapemachine/mem-go/pkg/stores/qdrant"
	"github.com/theapemachine/mem-go/pkg/stores/s3"
)

var (
	addrFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the memory engine HTTP API",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := metrics.NewRetrievalMetrics()

			manager, err := buildManager(cmd.Context(), stats)
			if err != nil {
				return err
			}

			addr := addrFlag
			if addr == "" {
				addr = viper.GetString("server.addr")
			}

			return service.NewMemoryServer(
				manager,
				service.WithAddr(addr),
				service.WithServerMetrics(stats),
			).Run()
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "Listen address, overrides config")
}

// buildManager assembles the full engine from the active config: providers,
// stores, reconciler, retriever and the optional graph resolver.
func buildManager(ctx context.Context, stats *metrics.RetrievalMetrics) (*memory.Manager, error) {
	embedder, err := buildEmbedder()
	if err != nil {
		return nil, err
	}

	extractor, err := buildExtractor()
	if err != nil {
		return nil, err
	}

	vector, err := buildVectorStore(ctx)
	if err != nil {
		return nil, err
	}

	graph, err := buildGraphStore()
	if err != nil {
		return nil, err
	}

	audit, err := buildAuditSink(ctx)
	if err != nil {
		return nil, err
	}

	reconciler := memory.NewReconciler(
		vector, embedder, extractor,
		memory.WithAuditSink(audit),
		memory.WithCandidateLimit(viper.GetInt("reconcile.candidate_limit")),
		memory.WithReconcilerMetrics(stats),
	)

	retrieverOptions := []memory.RetrieverOption{
		memory.WithRetrieverMetrics(stats),
	}
	if viper.GetString("provider.reranker") == "cohere" {
		retrieverOptions = append(retrieverOptions, memory.WithReranker(
			provider.NewCohereReranker(
				provider.WithCohereRerankerModel(viper.GetString("provider.reranker_model")),
			),
		))
	}

	retriever := memory.NewRetriever(vector, graph, embedder, memory.RetrieverConfig{
		GraphEnabled: graph != nil,
		PoolSize:     viper.GetInt("retrieval.pool_size"),
		Timeout:      time.Duration(viper.GetInt("retrieval.timeout_seconds")) * time.Second,
		Limit:        viper.GetInt("retrieval.limit"),
	}, retrieverOptions...)

	managerOptions := []memory.ManagerOption{
		memory.WithManagerAuditSink(audit),
	}

	if graph != nil {
		managerOptions = append(managerOptions, memory.WithResolver(
			memory.NewResolver(
				graph, embedder, extractor,
				viper.GetFloat64("graph.threshold"),
				memory.WithResolverAuditSink(audit),
			),
		))
	}

	return memory.NewManager(vector, extractor, reconciler, retriever, managerOptions...), nil
}

func buildEmbedder() (memory.Embedder, error) {
	switch backend := viper.GetString("provider.embedder"); backend {
	case "openai":
		return provider.NewOpenAIEmbedder(
			provider.WithOpenAIEmbedderModel(viper.GetString("provider.embedder_model")),
		), nil
	case "cohere":
		return provider.NewCohereEmbedder(
			provider.WithCohereEmbedderModel(viper.GetString("provider.embedder_model")),
		), nil
	case "ollama":
		return provider.NewOllamaEmbedder(
			provider.WithOllamaEmbedderModel(viper.GetString("provider.embedder_model")),
		), nil
	case "mock":
		return memory.NewMockEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder backend: %s", backend)
	}
}

func buildExtractor() (memory.Extractor, error) {
	switch backend := viper.GetString("provider.extractor"); backend {
	case "openai":
		return provider.NewOpenAIProvider(
			provider.WithOpenAIModel(viper.GetString("provider.extractor_model")),
		), nil
	case "anthropic":
		return provider.NewAnthropicProvider(
			provider.WithAnthropicModel(viper.GetString("provider.extractor_model")),
		), nil
	case "mock":
		return provider.NewMockExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extractor backend: %s", backend)
	}
}

func buildVectorStore(ctx context.Context) (memory.VectorStore, error) {
	switch backend := viper.GetString("vector.backend"); backend {
	case "memory":
		return memory.NewInMemoryVectorStore(), nil
	case "qdrant":
		client := qdrant.New(
			viper.GetString("vector.endpoint"),
			viper.GetString("vector.collection"),
		)
		if err := client.EnsureCollection(ctx, viper.GetInt("provider.embedding_dimensions")); err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", backend)
	}
}

func buildGraphStore() (memory.GraphStore, error) {
	switch backend := viper.GetString("graph.backend"); backend {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.NewInMemoryGraphStore(), nil
	case "neo4j":
		return neo4j.New(
			viper.GetString("graph.endpoint"),
			viper.GetString("graph.username"),
			viper.GetString("graph.password"),
		), nil
	default:
		return nil, fmt.Errorf("unknown graph backend: %s", backend)
	}
}

func buildAuditSink(ctx context.Context) (memory.AuditSink, error) {
	switch backend := viper.GetString("audit.backend"); backend {
	case "none", "":
		return memory.NullAuditSink{}, nil
	case "s3":
		conn, err := s3.NewConn(
			ctx,
			viper.GetString("audit.endpoint"),
			viper.GetString("audit.access_key"),
			viper.GetString("audit.secret_key"),
			viper.GetString("audit.bucket"),
		)
		if err != nil {
			return nil, err
		}
		log.Info("audit trail enabled", "bucket", viper.GetString("audit.bucket"))
		return s3.NewAuditSink(conn), nil
	default:
		return nil, fmt.Errorf("unknown audit backend: %s", backend)
	}
}

var longServe = `
Serve the memory engine HTTP API.

Examples:
  # Serve with the default config (~/.mem-go/config.yml)
  mem-go serve

  # Serve on a specific address
  mem-go serve --addr :8080
`
