package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/glimte/mmate-gateway/gateway"
	"github.com/glimte/mmate-gateway/health"
	"github.com/glimte/mmate-gateway/internal/config"
	"github.com/glimte/mmate-gateway/internal/rabbitmq"
	"github.com/glimte/mmate-gateway/internal/reliability"
	"github.com/glimte/mmate-gateway/routing"
	"github.com/glimte/mmate-gateway/schema"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// errInvalidMessage makes the validate command exit non-zero without
// printing the reason twice.
var errInvalidMessage = errors.New("message rejected")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalidMessage) {
			fmt.Fprintln(os.Stderr, "gateway:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "HTTP to RabbitMQ message gateway",
		Long: `Gateway accepts operation envelopes over HTTP, validates them against
per-operation rules and route whitelists, and publishes accepted messages
to RabbitMQ queues or topics.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd(), newRoutesCmd(), newValidateCmd(), newSchemaCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := schema.DefaultRegistry()
	table := routing.DefaultTable()
	if err := table.Verify(registry); err != nil {
		return fmt.Errorf("route table does not match operation rules: %w", err)
	}

	conn := rabbitmq.NewConnectionManager(cfg.RabbitMQ.AMQPURL(),
		rabbitmq.WithLogger(logger),
		rabbitmq.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
		rabbitmq.WithMaxRetries(cfg.RabbitMQ.MaxReconnectAttempts))

	channel := rabbitmq.NewChannel(conn,
		rabbitmq.WithConfirms(cfg.RabbitMQ.ConfirmDelivery),
		rabbitmq.WithChannelLogger(logger))
	conn.AddStateListener(channel)

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()
	defer channel.Close()

	topology := rabbitmq.GatewayTopology(cfg.RabbitMQ.Exchange, table, cfg.RabbitMQ.DeclareQueues)
	if err := rabbitmq.NewTopologyManager(channel, logger).DeclareTopology(topology); err != nil {
		return err
	}

	publisherOpts := []rabbitmq.PublisherOption{
		rabbitmq.WithExchange(cfg.RabbitMQ.Exchange),
		rabbitmq.WithConfirmTimeout(cfg.RabbitMQ.ConfirmTimeout),
		rabbitmq.WithPersistentDelivery(cfg.RabbitMQ.PersistentDelivery),
		rabbitmq.WithPublisherLogger(logger),
	}

	healthRegistry := health.NewRegistry(health.Info{
		Service:  cfg.ServiceName,
		Version:  version,
		Exchange: cfg.RabbitMQ.Exchange,
		Routes:   len(table.Routes()),
	})
	healthRegistry.Register(health.NewRabbitMQChecker(conn, channel))
	healthRegistry.Register(health.NewDestinationsChecker(
		rabbitmq.NewVerifier(conn, cfg.RabbitMQ.Exchange), table.Destinations()))

	// A zero threshold disables the breaker
	if cfg.RabbitMQ.BreakerThreshold > 0 {
		breaker := newPublishBreaker(cfg, logger)
		publisherOpts = append(publisherOpts, rabbitmq.WithCircuitBreaker(breaker))
		healthRegistry.Register(health.NewCircuitBreakerChecker(breaker))
	}

	publisher := rabbitmq.NewPublisher(channel, publisherOpts...)
	healthRegistry.Register(health.NewGoroutineChecker(1000, 5000))

	dispatcher, err := gateway.NewDispatcher(cfg.APIKey, registry, publisher,
		gateway.WithDispatcherLogger(logger))
	if err != nil {
		return err
	}

	server := gateway.NewServer(dispatcher, table,
		gateway.WithVersion(cfg.APIVersion),
		gateway.WithPrefix(cfg.APIPrefix),
		gateway.WithServiceName(cfg.ServiceName),
		gateway.WithMaxBodyBytes(cfg.MaxBodyBytes),
		gateway.WithHealthHandler(health.NewHandler(healthRegistry, cfg.HealthTimeout)),
		gateway.WithServerLogger(logger))

	logger.Info("gateway ready",
		"routes", len(table.Routes()),
		"operations", registry.Len(),
		"exchange", cfg.RabbitMQ.Exchange,
		"confirmDelivery", cfg.RabbitMQ.ConfirmDelivery)

	return server.Run(ctx, cfg.Addr(), cfg.ShutdownTimeout)
}

func newPublishBreaker(cfg *config.Config, logger *slog.Logger) *reliability.CircuitBreaker {
	return reliability.NewCircuitBreaker(
		reliability.WithName("publish"),
		reliability.WithFailureThreshold(cfg.RabbitMQ.BreakerThreshold),
		reliability.WithTimeout(cfg.RabbitMQ.BreakerCooldown),
		reliability.WithFailurePredicate(func(err error) bool {
			return rabbitmq.IsRetryable(err) && !errors.Is(err, context.Canceled)
		}),
		reliability.WithStateChangeListener(reliability.StateChangeFunc(func(from, to reliability.State, reason string) {
			logger.Warn("publish circuit changed state",
				"from", from.String(),
				"to", to.String(),
				"reason", reason)
		})),
	)
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		RunE: func(cmd *cobra.Command, args []string) error {
			printRoutes(cmd.OutOrStdout(), routing.DefaultTable())
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var routeName string

	cmd := &cobra.Command{
		Use:   "validate <operationId> [file|-]",
		Short: "Validate a message against the rule of an operation",
		Long: `Validate reads a message JSON document from a file, or from stdin when the
file is omitted or "-", and checks it with the same rules the gateway uses.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationID := args[0]

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			message, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}

			out := cmd.OutOrStdout()
			if routeName != "" {
				route, ok := routing.DefaultTable().Resolve(routeName)
				if !ok {
					return fmt.Errorf("unknown route %q", routeName)
				}
				if !route.Allows(operationID) {
					fmt.Fprintf(out, "%s is not accepted on route %s\n", operationID, routeName)
					return errInvalidMessage
				}
			}

			result := schema.NewMessageValidator(schema.DefaultRegistry()).Validate(operationID, message)
			if !result.Accepted {
				fmt.Fprintln(out, result.Reason)
				return errInvalidMessage
			}

			fmt.Fprintf(out, "valid %s message\n", operationID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&routeName, "route", "r", "", "also check the whitelist of this route")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [operationId]",
		Short: "Print the JSON Schema of one or all operation rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			generator := schema.NewJSONSchemaGenerator(schema.DefaultRegistry())

			var doc interface{}
			if len(args) == 1 {
				s, err := generator.GenerateForOperation(args[0])
				if err != nil {
					return err
				}
				doc = s
			} else {
				all, err := generator.GenerateAll()
				if err != nil {
					return err
				}
				doc = all
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(doc)
		},
	}
}

func printRoutes(w io.Writer, table *routing.Table) {
	fmt.Fprintf(w, "%-25s %-30s %s\n", "Route", "Destination", "Operation IDs")
	fmt.Fprintln(w, strings.Repeat("-", 95))

	for _, route := range table.Routes() {
		fmt.Fprintf(w, "%-25s %-30s %s\n",
			route.Name,
			route.Destination.String(),
			strings.Join(route.OperationIDs(), ", "),
		)
	}
}
