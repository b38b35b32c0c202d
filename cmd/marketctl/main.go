// marketctl queries CoinGecko market data and drives a Gekko trading server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/agora-labs/internal/gekko"
	"github.com/ashureev/agora-labs/internal/market"
)

// App holds the global flags shared by every command.
type App struct {
	BaseURL  string
	GekkoURL string
	APIKey   string
	Timeout  time.Duration
	JSON     bool
	Verbose  bool
}

func (app *App) marketClient() *market.Client {
	return market.NewClient(market.Options{
		BaseURL: app.BaseURL,
		APIKey:  app.APIKey,
		Timeout: app.Timeout,
	})
}

func (app *App) gekkoClient() *gekko.Client {
	return gekko.NewClient(app.GekkoURL, app.Timeout)
}

func newRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "marketctl",
		Short:         "Query cryptocurrency market data",
		Long:          `marketctl fetches coin details and market listings from CoinGecko and controls a Gekko trading server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if app.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.BaseURL, "base-url", envOr("COINGECKO_BASE_URL", market.DefaultBaseURL), "CoinGecko API base URL")
	flags.StringVar(&app.GekkoURL, "gekko-url", envOr("GEKKO_BASE_URL", gekko.DefaultBaseURL), "Gekko server base URL")
	flags.StringVar(&app.APIKey, "api-key", os.Getenv("COINGECKO_API_KEY"), "CoinGecko demo API key")
	flags.DurationVar(&app.Timeout, "timeout", 10*time.Second, "request timeout")
	flags.BoolVar(&app.JSON, "json", false, "print JSON instead of a table")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "enable debug logging")

	app.addMarketCommands(rootCmd)
	app.addGekkoCommands(rootCmd)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
