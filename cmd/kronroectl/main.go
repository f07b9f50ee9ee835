// Command kronroectl provides CLI access to a kronroe store.
//
// Usage:
//
//	kronroectl assert <subject> <predicate> <object> [--valid-from=RFC3339]
//	kronroectl current <subject> [predicate]
//	kronroectl at <subject> <predicate> <RFC3339>
//	kronroectl get <id>
//	kronroectl invalidate <id> [--at=RFC3339]
//	kronroectl correct <id> <object> [--at=RFC3339]
//	kronroectl search <query> [--limit=10]
//	kronroectl export [--output=path]
//	kronroectl import <file.json>   (facts whose id already exists are skipped)
//	kronroectl serve [--metrics-addr=:9090]
//
// The store path is taken from --db, falling back to KRONROE_DB_PATH, then
// ./kronroe.db. Log verbosity is taken from --log-level, falling back to
// KRONROE_LOG_LEVEL (default "info").
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kronroe/kronroe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	dbPath   string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "kronroectl",
		Short:         "Inspect and mutate a kronroe bi-temporal fact store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the kronroe store (default: $KRONROE_DB_PATH or ./kronroe.db)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: $KRONROE_LOG_LEVEL or info)")

	root.AddCommand(
		newAssertCmd(),
		newCurrentCmd(),
		newAtCmd(),
		newGetCmd(),
		newInvalidateCmd(),
		newCorrectCmd(),
		newSearchCmd(),
		newExportCmd(),
		newImportCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if v := os.Getenv("KRONROE_DB_PATH"); v != "" {
		return v
	}
	return "kronroe.db"
}

func resolveLogger() zerolog.Logger {
	level := logLevel
	if level == "" {
		level = os.Getenv("KRONROE_LOG_LEVEL")
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}

func openGraph() (*kronroe.Graph, error) {
	return kronroe.Open(resolveDBPath(), kronroe.Options{Logger: resolveLogger()})
}

func newAssertCmd() *cobra.Command {
	var validFromStr string
	var idempotencyKey string
	var genKey bool
	cmd := &cobra.Command{
		Use:   "assert <subject> <predicate> <object>",
		Short: "Assert a new fact",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			validFrom, err := parseTimeOrNow(validFromStr)
			if err != nil {
				return err
			}
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			key := idempotencyKey
			if genKey {
				key = uuid.New().String()
			}

			var id kronroe.FactID
			if key != "" {
				id, err = g.AssertFactIdempotent(cmd.Context(), key, args[0], args[1], kronroe.TextValue(args[2]), validFrom)
			} else {
				id, err = g.AssertFact(cmd.Context(), args[0], args[1], kronroe.TextValue(args[2]), validFrom)
			}
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&validFromStr, "valid-from", "", "RFC3339 timestamp (default: now)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "dedupe key: repeating it returns the original fact id")
	cmd.Flags().BoolVar(&genKey, "generate-idempotency-key", false, "generate a random idempotency key for this call (useful for scripted retries)")
	return cmd
}

func newCurrentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current <subject> [predicate]",
		Short: "List currently valid facts about a subject",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			var facts []kronroe.Fact
			if len(args) == 2 {
				facts, err = g.CurrentFacts(cmd.Context(), args[0], args[1])
			} else {
				var all []kronroe.Fact
				all, err = g.AllFactsAbout(cmd.Context(), args[0])
				for _, f := range all {
					if f.IsCurrentlyValid() {
						facts = append(facts, f)
					}
				}
			}
			if err != nil {
				return err
			}
			return printFacts(facts)
		},
	}
	return cmd
}

func newAtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "at <subject> <predicate> <RFC3339>",
		Short: "List facts valid at a point in time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, args[2])
			if err != nil {
				return fmt.Errorf("parsing timestamp: %w", err)
			}
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			facts, err := g.FactsAt(cmd.Context(), args[0], args[1], t)
			if err != nil {
				return err
			}
			return printFacts(facts)
		},
	}
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a fact by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			f, err := g.FactByID(cmd.Context(), kronroe.FactID(args[0]))
			if err != nil {
				return err
			}
			return printFacts([]kronroe.Fact{f})
		},
	}
}

func newInvalidateCmd() *cobra.Command {
	var atStr string
	cmd := &cobra.Command{
		Use:   "invalidate <id>",
		Short: "Mark a fact as no longer valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimeOrNow(atStr)
			if err != nil {
				return err
			}
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			return g.InvalidateFact(cmd.Context(), kronroe.FactID(args[0]), at)
		},
	}
	cmd.Flags().StringVar(&atStr, "at", "", "RFC3339 timestamp (default: now)")
	return cmd
}

func newCorrectCmd() *cobra.Command {
	var atStr string
	cmd := &cobra.Command{
		Use:   "correct <id> <object>",
		Short: "Invalidate a fact and assert its replacement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimeOrNow(atStr)
			if err != nil {
				return err
			}
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			newID, err := g.CorrectFact(cmd.Context(), kronroe.FactID(args[0]), kronroe.TextValue(args[1]), at)
			if err != nil {
				return err
			}
			fmt.Println(newID)
			return nil
		},
	}
	cmd.Flags().StringVar(&atStr, "at", "", "RFC3339 timestamp (default: now)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid full-text search over all facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			params := kronroe.DefaultHybridParams()
			params.K = limit
			params.VectorWeight = 0 // no query embedding available from the CLI

			hits, err := g.SearchHybrid(cmd.Context(), args[0], nil, params, nil)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%.4f\t%s\t%s\t%s\n", h.Breakdown.FinalScore, h.Fact.ID, h.Fact.Subject, h.Fact.Predicate)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all facts to JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			data, err := g.Export(cmd.Context())
			if err != nil {
				return err
			}
			buf, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return err
			}
			if output != "" {
				if err := os.WriteFile(output, buf, 0600); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Exported %d facts to %s\n", len(data.Facts), output)
				return nil
			}
			os.Stdout.Write(buf)
			os.Stdout.Write([]byte("\n"))
			fmt.Fprintf(os.Stderr, "Exported %d facts\n", len(data.Facts))
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "write to file instead of stdout")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import facts from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var data kronroe.ExportData
			if err := json.Unmarshal(raw, &data); err != nil {
				return err
			}

			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()

			result, err := g.Import(cmd.Context(), &data)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d facts, skipped %d duplicates.\n", result.Imported, result.Skipped)
			return nil
		},
	}
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold the store open and expose its operation metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			var g *kronroe.Graph
			metrics := kronroe.NewMetrics(reg, func() int {
				if g == nil {
					return 0
				}
				return g.VectorIndexSize()
			})

			graph, err := kronroe.Open(resolveDBPath(), kronroe.Options{Logger: resolveLogger(), Metrics: metrics})
			if err != nil {
				return err
			}
			defer graph.Close()
			g = graph

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			fmt.Fprintf(os.Stderr, "serving metrics on http://%s/metrics\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func parseTimeOrNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func printFacts(facts []kronroe.Fact) error {
	if len(facts) == 0 {
		fmt.Println("no facts found")
		return nil
	}
	for _, f := range facts {
		buf, err := json.Marshal(f)
		if err != nil {
			return err
		}
		fmt.Println(string(buf))
	}
	return nil
}
