package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/app"
	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/models"
)

// NewRootCommand builds the root CLI command.
func NewRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "hearth",
		Short:         "Hearth connects to Home Assistant instances on your network",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			common.PrintBanner(common.NewDefaultConfig(), common.NewSilentLogger())
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the hearth.toml config file")

	open := func() (*app.App, error) {
		return app.NewApp(configFile)
	}

	cmd.AddCommand(
		NewDiscoverCommand(open),
		NewConnectCommand(open),
		NewLoginCommand(open),
		NewLogoutCommand(open),
		NewStatusCommand(open),
		NewStatesCommand(open),
		NewCallCommand(open),
		NewWatchCommand(open),
		NewVersionCommand(),
	)

	return cmd
}

// appOpener defers App construction until a command actually runs, so --config
// is parsed first.
type appOpener func() (*app.App, error)

// requireSession loads the persisted connection and fails when none exists.
func requireSession(ctx context.Context, a *app.App) (*models.Connection, interfaces.InstanceClient, error) {
	if err := a.Session.LoadPersisted(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load saved connection: %w", err)
	}
	conn := a.Session.Current()
	if conn == nil {
		return nil, nil, fmt.Errorf("no saved connection; run 'hearth login' or 'hearth connect' first")
	}
	return conn, a.Session.Client(), nil
}
