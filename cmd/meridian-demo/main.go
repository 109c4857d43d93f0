package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/meridian/pkg/bus"
	"github.com/cuemby/meridian/pkg/codec"
	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/natsbus"
	"github.com/cuemby/meridian/pkg/natskv"
	"github.com/cuemby/meridian/pkg/service"
	"github.com/cuemby/meridian/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meridian-demo",
	Short: "meridian-demo - reference microservice built on the meridian SDK",
	Long: `meridian-demo exercises every part of the meridian runtime SDK
against a live NATS JetStream cluster: service registration and
heartbeat, RPC dispatch, event pub/sub, sticky-active leader election,
and service discovery.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"meridian-demo version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringSlice("broker", []string{"nats://127.0.0.1:4222"}, "NATS broker server URLs")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runnerCmd)
	rootCmd.AddCommand(watcherCmd)
	rootCmd.AddCommand(callCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func startMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error", err)
		}
	}()
}

// newStore opens the shared KV bucket used for the service registry,
// definition catalog, and leader-election leases (spec.md §3.4). A
// single bucket name is used per demo cluster since key prefixes
// (pkg/subject) already namespace registry, definition, and lease
// entries from one another.
func newStore(ctx context.Context, servers []string) (kvstore.KVStore, error) {
	return natskv.Open(ctx, servers, "meridian")
}

func newBus() bus.MessageBus {
	return natsbus.New()
}

// runnerCmd starts the "runner" demo service: a sticky-active exclusive
// RPC, a plain RPC, a command handler, and an event subscriber, wired
// together the way a production service built on this SDK would be.
var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run the demo 'runner' service (exclusive RPC + command + event handlers)",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetStringSlice("broker")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		instanceID, _ := cmd.Flags().GetString("instance-id")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, err := newStore(ctx, servers)
		if err != nil {
			return fmt.Errorf("open kv store: %w", err)
		}
		defer store.Close()

		cfg := service.DefaultConfig("runner")
		cfg.BrokerServers = servers
		cfg.StickyActiveGroup = "runner-leader"
		if instanceID != "" {
			cfg.InstanceID = instanceID
		}

		svc, err := service.New(cfg, newBus(), store)
		if err != nil {
			return fmt.Errorf("construct service: %w", err)
		}

		if err := svc.RegisterRPC("status", func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{
				"instance_id": cfg.InstanceID,
				"active":      svc.IsActive(),
			}, nil
		}); err != nil {
			return err
		}

		if err := svc.RegisterExclusiveRPC("deploy", func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			target, _ := params["target"].(string)
			log.Info("deploying to " + target)
			return map[string]interface{}{"deployed": true, "target": target}, nil
		}); err != nil {
			return err
		}

		if err := svc.RegisterCommand("build", func(_ context.Context, buildCmd *types.Command, progress service.ProgressFunc) (map[string]interface{}, error) {
			target, _ := buildCmd.Payload["target"].(string)
			progress(context.Background(), 50, "compiling "+target)
			time.Sleep(100 * time.Millisecond)
			progress(context.Background(), 100, "done")
			return map[string]interface{}{"target": target, "ok": true}, nil
		}); err != nil {
			return err
		}

		if err := svc.SubscribeEvent("events.cache.invalidate", func(_ context.Context, evt *types.Event) error {
			log.Info("cache invalidated: " + fmt.Sprint(evt.Payload["key"]))
			return nil
		}, types.ModeBroadcast); err != nil {
			return err
		}

		startMetricsServer(metricsAddr)

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		fmt.Printf("runner instance %s started (metrics: http://%s/metrics)\n", cfg.InstanceID, metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down...")
		return svc.Stop(context.Background())
	},
}

// watcherCmd starts a "watcher" demo service that only subscribes to
// events, to demonstrate COMPETE load-balanced event consumption across
// multiple instances. It registers no RPC handlers.
var watcherCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Run the demo 'watcher' service (COMPETE event consumer)",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetStringSlice("broker")
		instanceID, _ := cmd.Flags().GetString("instance-id")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, err := newStore(ctx, servers)
		if err != nil {
			return fmt.Errorf("open kv store: %w", err)
		}
		defer store.Close()

		cfg := service.DefaultConfig("watcher")
		cfg.BrokerServers = servers
		if instanceID != "" {
			cfg.InstanceID = instanceID
		}

		svc, err := service.New(cfg, newBus(), store)
		if err != nil {
			return fmt.Errorf("construct service: %w", err)
		}

		if err := svc.SubscribeEvent("events.jobs.process", func(_ context.Context, evt *types.Event) error {
			log.Info(fmt.Sprintf("processing job from %s payload=%v", evt.Source, evt.Payload))
			return nil
		}, types.ModeCompete); err != nil {
			return err
		}

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		fmt.Printf("watcher instance %s started\n", cfg.InstanceID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down...")
		return svc.Stop(context.Background())
	},
}

// callCmd is a short-lived client that performs one outgoing call
// against a running demo service, to exercise CallRPC/CallCommand and
// discovery from outside any long-running service process.
var callCmd = &cobra.Command{
	Use:   "call SERVICE METHOD",
	Short: "Perform a single RPC or command call against a running service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetStringSlice("broker")
		targetService, method := args[0], args[1]
		asCommand, _ := cmd.Flags().GetBool("command")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
		defer cancel()

		store, err := newStore(ctx, servers)
		if err != nil {
			return fmt.Errorf("open kv store: %w", err)
		}
		defer store.Close()

		cfg := service.DefaultConfig("meridian-demo-cli")
		cfg.BrokerServers = servers
		cfg.EnableRegistration = false
		cfg.InstanceID = cfg.InstanceID + "-" + codec.NewMessageID()[:6]

		svc, err := service.New(cfg, newBus(), store)
		if err != nil {
			return fmt.Errorf("construct service: %w", err)
		}
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start client: %w", err)
		}
		defer svc.Stop(context.Background())

		var result map[string]interface{}
		if asCommand {
			result, err = svc.CallCommand(ctx, targetService, method, map[string]interface{}{"target": "demo"}, 0, timeout)
		} else {
			result, err = svc.CallRPC(ctx, targetService, method, nil, timeout, true)
		}
		if err != nil {
			return fmt.Errorf("call failed: %w", err)
		}

		fmt.Printf("result: %v\n", result)
		return nil
	},
}

func init() {
	runnerCmd.Flags().String("instance-id", "", "override the generated instance id")
	watcherCmd.Flags().String("instance-id", "", "override the generated instance id")
	callCmd.Flags().Bool("command", false, "send a command instead of an RPC")
	callCmd.Flags().Duration("timeout", 5*time.Second, "call timeout")
}
