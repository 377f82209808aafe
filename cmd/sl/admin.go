package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"submitline/internal/app"
	"submitline/internal/config"
	"submitline/internal/legacy"
	"submitline/internal/repo"
	"submitline/internal/server"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, its config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			created, err := app.Init(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]any{"workspace": workspace, "config_created": created}, func() {
				if created {
					fmt.Printf("wrote %s\n", config.Path(workspace))
				}
				fmt.Printf("workspace ready at %s\n", workspace)
			})
		},
	}
}

func legacyCmd() *cobra.Command {
	leg := &cobra.Command{
		Use:   "legacy",
		Short: "Manage legacy rows",
		Long:  "Legacy rows are snapshots written by an external system of record. When legacy.enabled is set they are merged into each submission's history on load.",
	}
	leg.AddCommand(legacyImportCmd())
	leg.AddCommand(legacyShowCmd())
	return leg
}

// rowsFile accepts either a bare list of rows or a document with a rows key.
type rowsFile struct {
	Rows []legacy.Row `yaml:"rows"`
}

func readRows(path string) ([]legacy.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []legacy.Row
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc rowsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid rows yaml: %w", err)
	}
	return doc.Rows, nil
}

func legacyImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import legacy rows from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readRows(file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				if err := w.Repo.UpsertRows(ctx, rows); err != nil {
					return err
				}
				return printJSONOrText(map[string]int{"imported": len(rows)}, func() {
					fmt.Printf("imported %d rows\n", len(rows))
				})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a YAML file of rows")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func legacyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the legacy rows of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				rows, err := w.Repo.Rows(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrText(rows, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Type", "Version", "Status", "Created", "Updated", "Published"})
					for _, r := range rows {
						tw.AppendRow(table.Row{r.ID, r.Type, r.Version, r.Status, r.Created.Format(time.RFC3339), r.Updated.Format(time.RFC3339), r.PublishedID})
					}
					tw.Render()
				})
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in submitline.yml next to the .submitline directory. Missing files fall back to defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate submitline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys for the acting agent"}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(apiKeyListCmd())
	key.AddCommand(apiKeyDeleteCmd())
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			buf := make([]byte, 24)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			secret := "sl_" + hex.EncodeToString(buf)
			k := repo.APIKey{ID: uuid.NewString(), Agent: agent, Name: name, KeyHash: repo.HashAPIKey(secret)}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				if err := w.Repo.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"id": k.ID, "key": secret}, func() {
					fmt.Printf("id:  %s\nkey: %s\n", k.ID, secret)
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			filter := &agent
			if all {
				filter = nil
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				keys, err := w.Repo.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				return printJSONOrText(keys, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Agent", "Name", "Created"})
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.Agent.String(), k.Name, k.CreatedAt})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every agent")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return w.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func jwtSecret(cfg *config.Config) string {
	if cfg.Server.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(cfg.Server.JWTSecretEnv)
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			secret := jwtSecret(cfg)
			if secret == "" {
				return fmt.Errorf("%s is required to sign tokens", cfg.Server.JWTSecretEnv)
			}
			token, err := server.SignToken(agent, secret, cfg.Server.JWTIssuer)
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]string{"token": token}, func() { fmt.Println(token) })
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := newLogger()
			w, err := app.Open(ctx, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer w.Close()
			cfg := w.Config
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:      jwtSecret(cfg),
				Issuer:         cfg.Server.JWTIssuer,
				DevActorHeader: cfg.Server.DevActorHeader,
				Logger:         logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.DevActorHeader {
				return fmt.Errorf("%s is required for bearer auth", cfg.Server.JWTSecretEnv)
			}
			handler, err := server.New(server.Config{Engine: w.Engine, Repo: w.Repo, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			w.Engine.Worker.Start(ctx)
			server.NewWebhookDispatcher(w.Repo, cfg.Notify.Webhooks, logger).Start(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdown)
			}()
			fmt.Printf("Serving submitline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (defaults to server.base_path)")
	return cmd
}
