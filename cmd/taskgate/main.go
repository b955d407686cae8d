package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/cost"
	"github.com/zen-systems/taskgate/pkg/dispatch"
	"github.com/zen-systems/taskgate/pkg/eligibility"
	"github.com/zen-systems/taskgate/pkg/health"
	"github.com/zen-systems/taskgate/pkg/provider"
	"github.com/zen-systems/taskgate/pkg/retrieval"
	"github.com/zen-systems/taskgate/pkg/server"
	"github.com/zen-systems/taskgate/pkg/trace"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskgate",
		Short: "AI task routing and dispatch service",
		Long: `Taskgate routes AI tasks to the cheapest lane that can serve them:
	local models for routine work, hosted providers when tier or policy
	demands it, and delegated agents for multi-step stages.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to dispatch config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var listenFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch HTTP service",
		Long: `Starts the HTTP service exposing dispatch, streaming dispatch,
	health, and cost endpoints. Shuts down cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := buildServices(cfg, true)
			if err != nil {
				return err
			}

			svc.monitor.Start(ctx)
			defer svc.monitor.Shutdown()
			if svc.emitter != nil {
				svc.emitter.Start(ctx)
			}

			srvOpts := []server.Option{
				server.WithRoutes(svc.routes),
				server.WithHealthSource(svc.monitor),
				server.WithCostSource(svc.accountant),
			}
			if svc.emitter != nil {
				srvOpts = append(srvOpts, server.WithTraceSource(svc.emitter))
			}
			s := server.New(svc.dispatcher, srvOpts...)

			addr := listenFlag
			if addr == "" {
				addr = cfg.Env.ListenAddr
			}
			httpServer := &http.Server{
				Addr:    addr,
				Handler: s.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("[taskgate] listening on %s (%d task types)", addr, svc.routes.Len())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Printf("[taskgate] shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			// Stop accepting requests, then the probe loop, then drain spans.
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("[taskgate] http shutdown: %v", err)
			}
			svc.monitor.Shutdown()
			if svc.emitter != nil {
				if err := svc.emitter.Shutdown(shutdownCtx); err != nil {
					log.Printf("[taskgate] trace drain incomplete: %v", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenFlag, "listen", "", "listen address (overrides TASKGATE_LISTEN_ADDR)")

	return cmd
}

func dispatchCmd() *cobra.Command {
	var inputFlag string
	var contextFlag string
	var stageFlag string
	var streamFlag bool
	var maxBudgetUSD float64

	cmd := &cobra.Command{
		Use:   "dispatch [task-type]",
		Short: "Dispatch a single task from the command line",
		Long: `Dispatches one task through the routing table and prints the result.

	The input payload is read as JSON from --input, or from stdin when the
	flag is omitted. Use --stream to print output fragments as they arrive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if maxBudgetUSD > 0 {
				cfg.Env.MaxBudgetUSD = maxBudgetUSD
			}

			input := inputFlag
			switch {
			case strings.HasPrefix(input, "@"):
				data, err := os.ReadFile(strings.TrimPrefix(input, "@"))
				if err != nil {
					return fmt.Errorf("failed to read input file: %w", err)
				}
				input = strings.TrimSpace(string(data))
			case input == "":
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				input = strings.TrimSpace(string(data))
			}

			var payload map[string]any
			if input != "" {
				if err := json.Unmarshal([]byte(input), &payload); err != nil {
					return fmt.Errorf("input payload is not valid JSON: %w", err)
				}
			}

			svc, err := buildServices(cfg, false)
			if err != nil {
				return err
			}

			ctx := context.Background()

			// One probe so the local lane has a health snapshot to consult.
			svc.monitor.Check(ctx)

			req := dispatch.TaskRequest{
				TaskID:       uuid.NewString(),
				TaskType:     taskType,
				StageHint:    stageFlag,
				InputPayload: payload,
				ContextHint:  contextFlag,
				Streaming:    streamFlag,
			}

			if streamFlag {
				return runStream(ctx, svc.dispatcher, req)
			}

			res := svc.dispatcher.Dispatch(ctx, req)
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !res.Success {
				return fmt.Errorf("dispatch failed: %s", res.Error)
			}
			fmt.Fprintf(os.Stderr, "Dispatched via %s in %dms (total cost $%.4f)\n",
				res.Provider, res.DurationMs, svc.accountant.Total())
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFlag, "input", "i", "", "input payload as JSON, or @file (defaults to stdin)")
	cmd.Flags().StringVar(&contextFlag, "context", "", "retrieval query hint")
	cmd.Flags().StringVar(&stageFlag, "stage", "", "business stage hint for cost attribution")
	cmd.Flags().BoolVar(&streamFlag, "stream", false, "print output fragments as they arrive")
	cmd.Flags().Float64Var(&maxBudgetUSD, "max-budget-usd", 0, "advisory USD budget for provider calls (0 disables)")

	return cmd
}

func runStream(ctx context.Context, d *dispatch.Dispatcher, req dispatch.TaskRequest) error {
	events, err := d.DispatchStream(ctx, req)
	if err != nil {
		return err
	}

	var result *dispatch.Result
	for event := range events {
		if event.Done {
			result = event.Result
			continue
		}
		fmt.Print(event.Content)
	}
	fmt.Println()

	if result == nil {
		return fmt.Errorf("stream ended without a terminal event")
	}
	if !result.Success {
		return fmt.Errorf("dispatch failed: %s", result.Error)
	}
	fmt.Fprintf(os.Stderr, "Dispatched via %s in %dms\n", result.Provider, result.DurationMs)
	return nil
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the compiled dispatch table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			routes, err := dispatch.CompileRoutes(cfg.Dispatch)
			if err != nil {
				return fmt.Errorf("failed to compile routes: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK TYPE\tTIER\tLOCAL\tREMOTE\tAGENT\tTIMEOUT")

			for _, rt := range routes.All() {
				local := rt.Local.Model
				if local != "" && rt.RequireLocal {
					local += " (required)"
				}
				remote := ""
				if rt.Remote.Model != "" {
					remote = rt.Remote.Provider + "/" + rt.Remote.Model
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rt.TaskType, rt.Tier, orDash(local), orDash(remote), orDash(rt.Agent), rt.Timeout)
			}

			return w.Flush()
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the local provider once and print the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			local := provider.NewLocal(cfg.Env.LocalBaseURL)
			monitor := health.NewMonitor(local, cfg.Env.LocalModel,
				health.WithProbeTimeout(time.Duration(cfg.Dispatch.Health.TimeoutSeconds)*time.Second),
				health.WithLogger(func(string, ...any) {}),
			)

			healthy := monitor.Check(context.Background())

			out, err := json.MarshalIndent(monitor.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !healthy {
				return fmt.Errorf("local provider unhealthy")
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if configFile != "" {
		dispatchCfg, err := config.LoadDispatchConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load dispatch config from %s: %w", configFile, err)
		}
		cfg.Dispatch = dispatchCfg
	}
	return cfg, nil
}

// services bundles the wired dispatch stack for one process.
type services struct {
	routes     *dispatch.Routes
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	emitter    *trace.Emitter
	accountant *cost.Accountant
}

// buildServices compiles the route table and wires providers, health
// monitoring, eligibility, retrieval, agent delegation, and cost
// accounting into a dispatcher. Tracing is wired only when withTracing
// is set and a sink URL is configured.
func buildServices(cfg *config.Config, withTracing bool) (*services, error) {
	routes, err := dispatch.CompileRoutes(cfg.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to compile routes: %w", err)
	}

	providers, local, err := createProviders(cfg)
	if err != nil {
		return nil, err
	}

	monitor := health.NewMonitor(local, cfg.Env.LocalModel,
		health.WithInterval(time.Duration(cfg.Dispatch.Health.IntervalSeconds)*time.Second),
		health.WithProbeTimeout(time.Duration(cfg.Dispatch.Health.TimeoutSeconds)*time.Second),
	)

	accountant := cost.NewAccountant(cfg.Dispatch.Pricing, budgetUSD(cfg))

	opts := []dispatch.DispatcherOption{
		dispatch.WithPolicy(eligibility.NewPolicy(cfg.Dispatch.Eligibility.AllowedTaskTypes, cfg.Dispatch.Eligibility.TokenCeiling)),
		dispatch.WithHealth(monitor),
		dispatch.WithMaxChunkChars(cfg.Dispatch.Retrieval.MaxChunkChars),
	}

	if cfg.Env.RetrievalBaseURL != "" {
		retriever := retrieval.NewRetriever(
			retrieval.NewClient(cfg.Env.RetrievalBaseURL),
			retrieval.WithCollectionTimeout(time.Duration(cfg.Dispatch.Retrieval.TimeoutSeconds)*time.Second),
			retrieval.WithMaxParallel(cfg.Dispatch.Retrieval.MaxParallel),
		)
		opts = append(opts, dispatch.WithRetriever(retriever))
	}
	if cfg.Env.AgentBaseURL != "" {
		opts = append(opts, dispatch.WithAgent(dispatch.NewAgentClient(cfg.Env.AgentBaseURL)))
	}

	var emitter *trace.Emitter
	if withTracing && cfg.Env.TraceSinkURL != "" {
		emitter = trace.NewEmitter(trace.NewHTTPSink(cfg.Env.TraceSinkURL),
			trace.WithBatchSize(cfg.Dispatch.Trace.BatchSize),
			trace.WithFlushInterval(time.Duration(cfg.Dispatch.Trace.FlushIntervalSeconds)*time.Second),
			trace.WithMaxBuffer(cfg.Dispatch.Trace.MaxBuffer),
		)
		opts = append(opts, dispatch.WithSpans(emitter))
	}

	d := dispatch.NewDispatcher(routes, providers, accountant, opts...)

	return &services{
		routes:     routes,
		dispatcher: d,
		monitor:    monitor,
		emitter:    emitter,
		accountant: accountant,
	}, nil
}

func createProviders(cfg *config.Config) (map[string]provider.Provider, *provider.Local, error) {
	local := provider.NewLocal(cfg.Env.LocalBaseURL, provider.WithModels(cfg.Env.LocalModel))
	providers := map[string]provider.Provider{provider.NameLocal: local}

	if cfg.HasProvider("anthropic") {
		p, err := provider.NewAnthropic(cfg.Env.AnthropicAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		providers["anthropic"] = p
	}

	if cfg.HasProvider("openai") {
		p, err := provider.NewOpenAI(cfg.Env.OpenAIAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		providers["openai"] = p
	}

	if cfg.HasProvider("google") {
		p, err := provider.NewGoogle(cfg.Env.GoogleAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google provider: %w", err)
		}
		providers["google"] = p
	}

	return providers, local, nil
}

func budgetUSD(cfg *config.Config) float64 {
	if cfg.Env.MaxBudgetUSD > 0 {
		return cfg.Env.MaxBudgetUSD
	}
	return cfg.Dispatch.Budget.MaxUSD
}
