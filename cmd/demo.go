package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/theapemachine/mem-go/pkg/memory"
	"github.com/theapemachine/mem-go/pkg/provider"
)

var (
	demoCmd = &cobra.Command{
		Use:          "demo",
		Short:        "Run an offline demonstration of the memory engine",
		Long:         `Runs a full add-reconcile-retrieve round trip against in-memory stores and a scripted extractor, without any external service.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetLevel(log.DebugLevel)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			vector := memory.NewInMemoryVectorStore()
			graph := memory.NewInMemoryGraphStore()
			embedder := memory.NewMockEmbedder()
			extractor := provider.NewMockExtractor()
			extractor.EntitiesFn = func(text string) []memory.RelationTriple {
				return []memory.RelationTriple{
					{Source: "alex", Relationship: "lives_in", Target: "berlin"},
				}
			}

			reconciler := memory.NewReconciler(vector, embedder, extractor)
			retriever := memory.NewRetriever(vector, graph, embedder, memory.RetrieverConfig{
				GraphEnabled: true,
			})
			resolver := memory.NewResolver(graph, embedder, extractor, memory.ThresholdDefault)

			manager := memory.NewManager(
				vector, extractor, reconciler, retriever,
				memory.WithResolver(resolver),
			)

			scope := memory.Scope{UserID: "demo-user"}

			added, err := manager.Add(ctx, "Alex lives in Berlin. Alex likes espresso.", scope)
			if err != nil {
				return err
			}

			fmt.Printf("📥 Reconciled %d facts:\n", len(added.Report.Actions))
			for _, action := range added.Report.Actions {
				fmt.Printf("  %s\n", action)
			}

			found, err := manager.Search(ctx, "coffee preferences", map[string]any{
				"user_id": scope.UserID,
			}, 5)
			if err != nil {
				return err
			}

			fmt.Printf("\n🔎 Retrieved %d memories:\n", len(found.Results))
			for _, item := range found.Results {
				fmt.Printf("  %.3f  %s\n", item.Score, item.Memory)
			}

			if len(found.Relations) > 0 {
				fmt.Printf("\n🕸  Relations:\n")
				for _, triple := range found.Relations {
					fmt.Printf("  %s -[%s]-> %s\n", triple.Source, triple.Relationship, triple.Target)
				}
			}

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(demoCmd)
}
