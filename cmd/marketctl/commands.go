package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/agora-labs/internal/market"
)

func (app *App) addMarketCommands(rootCmd *cobra.Command) {
	coinCmd := &cobra.Command{
		Use:   "coin <id>",
		Short: "Show a single coin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coin, err := app.marketClient().GetCoinByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.printCoins(cmd.OutOrStdout(), coin, []market.Coin{coin})
		},
	}

	var topLimit int
	topCmd := &cobra.Command{
		Use:   "top",
		Short: "List the top coins by market cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coins, err := app.marketClient().GetTopCryptocurrencies(cmd.Context(), topLimit)
			if err != nil {
				return err
			}
			return app.printCoins(cmd.OutOrStdout(), coins, coins)
		},
	}
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", market.DefaultTopLimit, "number of coins")

	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List coins by market cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coins, err := app.marketClient().GetCoinList(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			return app.printCoins(cmd.OutOrStdout(), coins, coins)
		},
	}
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", market.DefaultListLimit, "number of coins")

	rootCmd.AddCommand(coinCmd, topCmd, listCmd)
}

func (app *App) addGekkoCommands(rootCmd *cobra.Command) {
	gekkoCmd := &cobra.Command{
		Use:   "gekko",
		Short: "Control a Gekko trading server",
	}

	exchangeCmd := &cobra.Command{
		Use:   "exchange <name>",
		Short: "Show exchange information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := app.gekkoClient().GetExchangeInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}

	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "List available trading strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategies, err := app.gekkoClient().ListStrategies(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), strategies)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start <config.json>",
		Short: "Start a trading session from a JSON config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var tradeCfg map[string]any
			if err := json.Unmarshal(data, &tradeCfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}
			id, err := app.gekkoClient().StartTrading(cmd.Context(), tradeCfg)
			if err != nil {
				return err
			}
			if app.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"session_id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a trading session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.gekkoClient().StopTrading(cmd.Context(), args[0]) {
				return fmt.Errorf("failed to stop trading session %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped", args[0])
			return nil
		},
	}

	gekkoCmd.AddCommand(exchangeCmd, strategiesCmd, startCmd, stopCmd)
	rootCmd.AddCommand(gekkoCmd)
}

// printCoins writes raw as JSON in --json mode, otherwise a table of coins.
func (app *App) printCoins(w io.Writer, raw any, coins []market.Coin) error {
	if app.JSON {
		return writeJSON(w, raw)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tNAME\tPRICE (USD)\tMARKET CAP\tVOLUME 24H")
	for _, c := range coins {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.0f\t%.0f\n", c.ID, c.Symbol, c.Name, c.Price, c.MarketCap, c.Volume24h)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

