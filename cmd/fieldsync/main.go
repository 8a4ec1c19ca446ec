// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// fieldsync is the development CLI: it runs one-shot and continuous sync
// against a backend, prints sync status, and hosts the in-memory reference
// server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldops/go-fieldsync/entities"
	"github.com/fieldops/go-fieldsync/fieldsync"
	"github.com/fieldops/go-fieldsync/localstore"
	"github.com/fieldops/go-fieldsync/syncserver"
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync client for field service data",
	Long: `fieldsync keeps a technician's local SQLite database in step with a
remote backend: work orders, checklists, quotes, invoices, expenses,
execution sessions and attachments. All writes land locally first and a
durable mutation queue pushes them when connectivity allows.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(syncCmd(), watchCmd(), statusCmd(), serverCmd(), tokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("db", "fieldsync.db", "path to the local SQLite database")
	rootCmd.PersistentFlags().String("base-url", "http://localhost:8080", "sync backend base URL")
	rootCmd.PersistentFlags().String("technician-id", "", "technician identifier (sync scope)")
	rootCmd.PersistentFlags().String("device-id", "dev-device", "device identifier")
	rootCmd.PersistentFlags().String("jwt-secret", "dev-secret", "shared JWT secret")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	for _, name := range []string{"db", "base-url", "technician-id", "device-id", "jwt-secret", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newEngine opens the local store and wires the full engine. The bearer token
// is minted locally from the shared secret, matching what the reference
// server validates.
func newEngine(logger *slog.Logger) (*fieldsync.Engine, *localstore.Store, error) {
	technicianID := viper.GetString("technician-id")
	if technicianID == "" {
		return nil, nil, fmt.Errorf("technician-id is required (flag or FIELDSYNC_TECHNICIAN_ID)")
	}

	store, err := localstore.Open(viper.GetString("db"), logger)
	if err != nil {
		return nil, nil, err
	}

	jwtAuth := syncserver.NewJWTAuth(viper.GetString("jwt-secret"))
	deviceID := viper.GetString("device-id")
	token := func(ctx context.Context) (string, error) {
		return jwtAuth.GenerateToken(technicianID, deviceID, time.Hour)
	}

	opts := fieldsync.DefaultOptions(viper.GetString("base-url"), technicianID, token)
	engine, err := fieldsync.New(store, opts, logger, entities.All()...)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, store, nil
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			engine, store, err := newEngine(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := engine.SyncNow(cmd.Context()); err != nil {
				return err
			}
			status, err := engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("sync complete",
				"pending_mutations", status.PendingMutations,
				"failed_attachments", status.FailedAttachments)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			engine, store, err := newEngine(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, cancel := engine.Events().Subscribe(16)
			defer cancel()
			go func() {
				for ev := range events {
					logger.Debug("sync event", "kind", ev.Kind, "entity", ev.Entity, "id", ev.ID)
				}
			}()

			engine.Start(ctx)
			if err := engine.SyncNow(ctx); err != nil {
				logger.Warn("initial sync failed", "error", err)
			}
			logger.Info("watching", "interval", fieldsync.DefaultOptions("", "", nil).SyncInterval)
			<-ctx.Done()
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pending mutation and attachment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			engine, store, err := newEngine(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"online":             status.Online,
				"pending_mutations":  status.PendingMutations,
				"failed_attachments": status.FailedAttachments,
				"last_sync_at":       status.LastSyncAt,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the in-memory reference sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			addr := viper.GetString("listen")
			srv := syncserver.NewServer(viper.GetString("jwt-secret"), logger)

			httpServer := &http.Server{Addr: addr, Handler: srv.Router()}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("reference server listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", ":8080", "listen address")
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for the configured technician and device",
		RunE: func(cmd *cobra.Command, args []string) error {
			technicianID := viper.GetString("technician-id")
			if technicianID == "" {
				return fmt.Errorf("technician-id is required")
			}
			jwtAuth := syncserver.NewJWTAuth(viper.GetString("jwt-secret"))
			token, err := jwtAuth.GenerateToken(technicianID, viper.GetString("device-id"), 24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
