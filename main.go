package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/orian/rulerepo/audit"
	"github.com/orian/rulerepo/provision"
	"github.com/orian/rulerepo/server"
	"github.com/orian/rulerepo/session"
	"github.com/orian/rulerepo/storage"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rulerepo",
		Short: "Provision the AutoQuote/DataValidation rule artifacts",
		Long: "Connects to a rule repository, removes the artifacts of a previous run\n" +
			"and recreates the variable set, operation and deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), loadClientConfig(os.Getenv))
		},
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a rule repository server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), loadServerConfig(os.Getenv))
		},
	}
}

func runProvision(ctx context.Context, cfg ClientConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.print()

	s, err := session.Connect(ctx, session.Credentials{User: cfg.User, Password: cfg.Password}, cfg.Endpoint, cfg.DataSource)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			log.Printf("Warning: failed to close session: %v", err)
		}
	}()

	st, err := provision.NewProvisioner(s).Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Provisioned %s, %s and %s", st.VariableSet.Name, st.Operation.Name, st.Deployment.Name)
	return nil
}

func runServer(ctx context.Context, cfg ServerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.print()

	store, err := storage.Open(cfg.Datastore)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	log.Printf("Storage initialized at: %s", cfg.Datastore)

	seed, err := storage.DefaultSeed()
	if cfg.SeedPath != "" {
		seed, err = storage.LoadSeed(cfg.SeedPath)
	}
	if err != nil {
		return err
	}
	if err := storage.ApplySeed(store, seed); err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}

	var recorder audit.Recorder = audit.NopRecorder{}
	if cfg.ClickHouse != nil {
		ch, err := audit.OpenClickHouse(ctx, *cfg.ClickHouse)
		if err != nil {
			log.Printf("Warning: ClickHouse audit log unavailable: %v", err)
		} else {
			recorder = ch
		}
	}
	defer recorder.Close()

	srv := server.NewServer(store, recorder, server.NewSessionManager(cfg.User, cfg.Password, cfg.DataSource))

	log.Printf("Starting server on http://localhost%s%s", cfg.Listen, defaultBasePath)
	if err := http.ListenAndServe(cfg.Listen, srv.Handler(defaultBasePath)); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
