package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/karapace-operator/pkg/api"
	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/config"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/health"
	"github.com/cuemby/karapace-operator/pkg/k8s"
	"github.com/cuemby/karapace-operator/pkg/kafka"
	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/reconciler"
	"github.com/cuemby/karapace-operator/pkg/relation"
	"github.com/cuemby/karapace-operator/pkg/render"
	"github.com/cuemby/karapace-operator/pkg/security"
	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/storage"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the operator for the local registry replica",
	Long: `Run the operator next to a Karapace replica.

The operator connects to the registry container through containerd,
reads its Kafka and client relations, takes part in leader election and
serves the admin API until interrupted.`,
	RunE: runOperator,
}

func init() {
	runCmd.Flags().String("kubeconfig", "", "Path to a kubeconfig (default: in-cluster)")
	runCmd.Flags().String("api-addr", "", "Admin API listen address")
}

func runOperator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("kubeconfig"); v != "" {
		cfg.Kubeconfig = v
	}
	if v, _ := cmd.Flags().GetString("api-addr"); v != "" {
		cfg.API.Addr = v
	}

	logger := log.WithComponent("main")
	logger.Info().
		Str("unit", cfg.Unit).
		Str("app", cfg.App).
		Str("namespace", cfg.Namespace).
		Str("version", Version).
		Msg("Starting karapace-operator")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kubernetes is needed for every substrate-backed component
	var client kubernetes.Interface
	if needsKubernetes(cfg) {
		client, err = k8s.NewClient(cfg.Kubeconfig)
		if err != nil {
			return err
		}
	}

	// Shared state
	var store storage.Store
	var peers *storage.SecretStore
	switch cfg.Store.Backend {
	case config.StoreBolt:
		bolt, err := storage.NewBoltStore(cfg.Store.DataDir)
		if err != nil {
			return err
		}
		if cfg.Store.SealKey != "" {
			sealer, err := security.NewSecretsManagerFromPassword(cfg.Store.SealKey)
			if err != nil {
				return fmt.Errorf("failed to create sealer: %w", err)
			}
			bolt.WithSealer(sealer)
		}
		store = bolt
	default:
		peers = storage.NewSecretStore(client, cfg.Namespace, cfg.App)
		store = peers
	}
	defer store.Close()

	// Leadership comes from the substrate; a lone replica leads itself
	var elector *k8s.LeaderElector
	leadership := state.Leadership(state.LeaderFunc(func() bool { return true }))
	if cfg.Election.Enabled {
		elector = k8s.NewLeaderElector(client, cfg.ElectionConfig())
		leadership = elector
	}
	cluster := state.New(store, cfg.Unit, leadership)

	// Workload
	rt, err := workload.NewContainerdRuntime(workload.ContainerdConfig{
		SocketPath:  cfg.Containerd.Socket,
		Namespace:   cfg.Containerd.Namespace,
		ContainerID: cfg.Containerd.ContainerID,
		HostRoot:    cfg.Containerd.HostRoot,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	w := workload.New(rt)

	// Relations
	var relations relation.Source
	var watcher *relation.SecretSource
	switch cfg.Relations.Source {
	case config.RelationsStatic:
		relations = relation.NewStatic(cfg.Relations.Kafka.Descriptor())
	default:
		watcher = relation.NewSecretSource(client, cfg.Namespace, cfg.App)
		relations = watcher
	}

	// TLS
	var provider tlsstate.Provider
	if cfg.TLS.Enabled {
		provider, err = newProvider(cfg, client)
		if err != nil {
			return err
		}
	}
	sans := append([]string{cfg.Host}, cfg.TLS.SANs...)
	tlsManager := tlsstate.New(cluster, w, provider, tlsstate.Options{Enabled: cfg.TLS.Enabled, SANs: sans})

	checker := kafka.NewChecker(relations, tlsManager)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	deps := reconciler.Deps{
		Cluster:   cluster,
		Workload:  w,
		Relations: relations,
		Auth:      auth.New(cluster, w, relations),
		TLS:       tlsManager,
		Renderer:  render.New(w, render.Options{LogLevel: cfg.Log.Level, Port: cfg.Port}),
		Kafka:     checker,
		Broker:    broker,
		Probe:     newProbe(cfg, w),
	}
	if client != nil {
		deps.ServiceLinks = k8s.NewServiceLinks(client, cfg.Namespace, cfg.Unit)
		if cfg.Election.RestartLock {
			deps.RestartLock = k8s.NewLeaseLock(client, cfg.Namespace, cfg.App+"-restart", cfg.Unit)
		}
	}

	ctrl := reconciler.New(deps, reconciler.Options{
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		DeferDelay:           cfg.Loop.DeferDelay,
		UpdateStatusInterval: cfg.Loop.UpdateStatusInterval,
		ProbeConfig: health.Config{
			Timeout: cfg.Probe.Timeout,
			Retries: cfg.Probe.Retries,
		},
	})

	collector := metrics.NewCollector(ctrl, cfg.Loop.MetricsInterval)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(ctrl, broker, []byte(cfg.API.Secret))
	if cfg.API.Secret == "" {
		logger.Warn().Msg("No API secret configured, admin actions are unavailable")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	g.Go(func() error {
		return server.Start(cfg.API.Addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if elector != nil {
		elector.OnElected = func() { ctrl.Emit(types.EventLeaderElected) }
		g.Go(func() error {
			return elector.Run(gctx)
		})
	}

	if watcher != nil {
		g.Go(func() error {
			err := watcher.Watch(gctx, func(kind string) {
				if kind == relation.KindKafka {
					checker.Invalidate()
				}
				ctrl.Emit(types.EventConfigChanged)
			})
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	// App-scoped peer state written by the leader reaches followers here
	if peers != nil {
		g.Go(func() error {
			err := peers.Watch(gctx, func() {
				ctrl.Emit(types.EventConfigChanged)
			})
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Operator stopped")
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// needsKubernetes reports whether any configured component talks to the
// API server. ServiceLinks is skipped when none does.
func needsKubernetes(cfg *config.Config) bool {
	return cfg.Store.Backend == config.StoreSecrets ||
		cfg.Relations.Source == config.RelationsSecrets ||
		cfg.Election.Enabled ||
		(cfg.TLS.Enabled && cfg.TLS.Provider == config.ProviderCSR)
}

func newProvider(cfg *config.Config, client kubernetes.Interface) (tlsstate.Provider, error) {
	switch cfg.TLS.Provider {
	case config.ProviderLocal:
		var sealer *security.SecretsManager
		if cfg.Store.SealKey != "" {
			var err error
			sealer, err = security.NewSecretsManagerFromPassword(cfg.Store.SealKey)
			if err != nil {
				return nil, fmt.Errorf("failed to create sealer: %w", err)
			}
		}
		ca := security.NewCertAuthority(sealer)
		if err := ca.LoadOrInitialize(cfg.TLS.CADir, cfg.App+" CA"); err != nil {
			return nil, fmt.Errorf("failed to load CA: %w", err)
		}
		return tlsstate.NewLocalProvider(ca), nil
	default:
		return tlsstate.NewCSRProvider(client, tlsstate.CSRConfig{
			App:         cfg.App,
			Namespace:   cfg.Namespace,
			SignerName:  cfg.TLS.CSR.SignerName,
			CAConfigMap: cfg.TLS.CSR.CAConfigMap,
			CAKey:       cfg.TLS.CSR.CAKey,
			AutoApprove: cfg.TLS.CSR.AutoApprove,
		}), nil
	}
}

// newProbe builds the registry endpoint check reported on /ready
func newProbe(cfg *config.Config, w *workload.Workload) health.Checker {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	switch cfg.Probe.Kind {
	case config.ProbeHTTP:
		if !cfg.TLS.Enabled {
			return health.NewHTTPChecker("http://" + addr + cfg.Probe.Path).WithTimeout(cfg.Probe.Timeout)
		}
		// tlsstate validates the unit certificate; the probe only needs an answer
		return health.NewHTTPChecker("https://"+addr+cfg.Probe.Path).
			WithTLSConfig(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}).
			WithTimeout(cfg.Probe.Timeout)
	case config.ProbeTCP:
		return health.NewTCPChecker(addr).WithTimeout(cfg.Probe.Timeout)
	case config.ProbeExec:
		return health.NewExecChecker(w, cfg.Probe.Command).WithTimeout(cfg.Probe.Timeout)
	default:
		return nil
	}
}
