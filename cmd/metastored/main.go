package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cube-js/cube-metastore/internal/bootstrap"
	"github.com/cube-js/cube-metastore/internal/config"
	"github.com/cube-js/cube-metastore/internal/domain"
	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/lockfile"
	"github.com/cube-js/cube-metastore/internal/replication"
)

const dbFileName = "metastore.db"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "metastored",
		Short: "Single-writer catalog service for a Cube.js-style analytical store",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd(), dumpCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the metastore data directory and serve until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx)
		},
	}
}

func dumpCmd() *cobra.Command {
	var outPath string
	c := &cobra.Command{
		Use:   "debug-dump",
		Short: "Write a JSON snapshot of the catalog to a file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return runDump(ctx, outPath)
		},
	}
	c.Flags().StringVar(&outPath, "out", "metastore-dump.json", "output file path")
	return c
}

func loadConfigAndOpen(ctx context.Context) (*config.Config, *lockfile.DataDirLock, *domain.Metastore, *replication.Replicator, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("metastored: load config: %w", err)
	}

	lock, err := lockfile.AcquireDataDir(cfg.DataDir)
	if err != nil {
		if lockfile.IsLocked(err) {
			return nil, nil, nil, nil, nil, fmt.Errorf("metastored: data dir %s is locked by another process", cfg.DataDir)
		}
		return nil, nil, nil, nil, nil, fmt.Errorf("metastored: acquire data dir lock: %w", err)
	}

	remote, err := buildRemoteFS(ctx, &cfg)
	if err != nil {
		lock.Release()
		return nil, nil, nil, nil, nil, err
	}

	bootOpts := bootstrap.Options{
		DataDir:          cfg.DataDir,
		DBFileName:       dbFileName,
		CheckpointPrefix: cfg.CheckpointPrefix,
		Remote:           remote,
	}
	store, res, err := bootstrap.Run(ctx, bootOpts, domain.NewRebuildableTables())
	if err != nil {
		lock.Release()
		return nil, nil, nil, nil, nil, fmt.Errorf("metastored: bootstrap: %w", err)
	}
	log.Printf("metastored: bootstrap complete: restored_from_remote=%v replayed_batches=%d corrupt_log_skipped=%v rebuilt_indexes=%v",
		res.RestoredFromRemote, res.ReplayedBatches, res.CorruptLogSkipped, res.RebuiltIndexes)

	bus := eventbus.New()
	m := domain.New(store, bus)

	var repl *replication.Replicator
	if remote != nil {
		repl = replication.New(store, remote, replication.Config{
			CheckpointPrefix:    cfg.CheckpointPrefix,
			SnapshotInterval:    cfg.SnapshotInterval,
			TickInterval:        cfg.ReplicationInterval,
			CheckpointRetention: cfg.CheckpointRetention,
			LocalCheckpointDir:  cfg.DataDir + "/.checkpoint-scratch",
			Enabled:             cfg.ReplicationEnabled,
		})
	}

	cleanup := func() {
		m.Stop()
		if repl != nil {
			repl.Stop()
		}
		if err := store.Close(); err != nil {
			log.Printf("metastored: close store: %v", err)
		}
		if err := lock.Release(); err != nil {
			log.Printf("metastored: release lock: %v", err)
		}
	}
	return &cfg, lock, m, repl, cleanup, nil
}

func serve(ctx context.Context) error {
	_, _, m, repl, cleanup, err := loadConfigAndOpen(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var done chan struct{}
	go m.Run(ctx)
	if repl != nil {
		done = make(chan struct{})
		go func() {
			repl.Run(ctx)
			close(done)
		}()
	}

	log.Printf("metastored: serving")
	<-ctx.Done()
	log.Printf("metastored: shutting down")
	if done != nil {
		<-done
	}
	return nil
}

func runDump(ctx context.Context, outPath string) error {
	_, _, m, _, cleanup, err := loadConfigAndOpen(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	go m.Run(ctx)
	if err := m.DebugDump(outPath); err != nil {
		return fmt.Errorf("metastored: debug dump: %w", err)
	}
	log.Printf("metastored: wrote %s", outPath)
	return nil
}

func buildRemoteFS(ctx context.Context, cfg *config.Config) (replication.RemoteFS, error) {
	switch cfg.RemoteKind {
	case "", "none":
		return nil, nil
	case "local":
		return replication.NewLocalFS(cfg.RemoteURI), nil
	case "s3":
		return replication.NewS3FS(ctx, cfg.RemoteURI, cfg.CheckpointPrefix)
	case "gcs":
		return replication.NewGCSFS(ctx, cfg.RemoteURI, cfg.CheckpointPrefix)
	case "azblob":
		return nil, fmt.Errorf("metastored: azblob requires a service URL and credential, configure it in code for now")
	default:
		return nil, fmt.Errorf("metastored: unknown remote_kind %q", cfg.RemoteKind)
	}
}
