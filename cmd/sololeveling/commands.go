package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPlayerCommand(configViper *viper.Viper) *cobra.Command {
	playerCmd := &cobra.Command{
		Use:   "player",
		Short: "Inspect and update the local player",
	}

	playerCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current player record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(configViper, func(app *application) error {
				player, err := app.players.Player(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), player)
			})
		},
	})

	playerCmd.AddCommand(&cobra.Command{
		Use:   "grant <amount>",
		Short: "Grant experience to the player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			xp, err := progression.NewExperience(amount)
			if err != nil {
				return err
			}
			return withApplication(configViper, func(app *application) error {
				progress, err := app.players.GrantExperience(cmd.Context(), xp)
				if err != nil {
					return err
				}
				levelUps := progress.LevelUps
				if levelUps == nil {
					levelUps = []progression.LevelUp{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"player":   progress.Player,
					"levelUps": levelUps,
				})
			})
		},
	})

	return playerCmd
}

func newCacheCommand(configViper *viper.Viper) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline shell cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install and activate the current cache generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(configViper, func(app *application) error {
				ctx := cmd.Context()
				startErr := app.cache.Start(ctx)
				if err := app.cache.Shutdown(context.WithoutCancel(ctx)); err != nil {
					return err
				}
				if startErr != nil {
					return startErr
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"version": app.cache.Version(),
					"state":   app.cache.State(),
				})
			})
		},
	})

	return cacheCmd
}

func withApplication(configViper *viper.Viper, run func(*application) error) error {
	appConfig, logger, err := loadRuntime(configViper)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(app)
}

func writeJSON(out io.Writer, value interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
