package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"submitline/internal/app"
	"submitline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Submitline CLI",
	Long: `Submitline records scholarly submissions as a history of events.
Core concepts:
- Workspace: the .submitline directory holding the database, next to submitline.yml.
- Submission: the aggregate whose state is replayed from its events.
- Event: one validated change, created by an agent (user, client or system).
- Rules: built-in reactions that emit further events on behalf of a system agent.
- Legacy rows: snapshots from an external system, merged into the history on load.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SUBMITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "native id of the acting agent")
	flags.String("actor-type", "user", "agent type: user, client or system")
	flags.String("email", "", "email of the acting user")
	flags.StringSlice("endorse", nil, "categories the acting user is endorsed for")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	for _, name := range []string{"workspace", "json", "actor-id", "actor-type", "email", "endorse", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(legacyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// currentAgent builds the acting agent from the persistent flags.
func currentAgent() (domain.Agent, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Agent{}, fmt.Errorf("--actor-id is required")
	}
	switch t := domain.AgentType(viper.GetString("actor-type")); t {
	case domain.AgentUser:
		return domain.User(id, viper.GetString("email"), viper.GetStringSlice("endorse")...), nil
	case domain.AgentClient:
		return domain.Client(id), nil
	case domain.AgentSystem:
		return domain.System(id), nil
	default:
		return domain.Agent{}, &domain.UnknownAgentTypeError{Type: string(t)}
	}
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

func printJSONOrText(v any, text func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	text()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
