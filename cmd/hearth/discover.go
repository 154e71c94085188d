package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/discovery"
	"github.com/avhall/hearth/internal/models"
)

// NewDiscoverCommand builds the discover command.
func NewDiscoverCommand(open appOpener) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for Home Assistant instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			svc := a.NewDiscovery(discovery.WithUpdateFunc(func(instances []models.DiscoveredInstance) {
				fmt.Fprintf(os.Stderr, "found %d instance(s)...\n", len(instances))
			}))
			if err := svc.Start(ctx); err != nil {
				return fmt.Errorf("failed to start discovery: %w", err)
			}
			<-ctx.Done()
			svc.Stop()

			instances := svc.Instances()
			if len(instances) == 0 {
				fmt.Println("No instances found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tURL")
			for _, inst := range instances {
				fmt.Fprintf(w, "%s\t%s\n", inst.Name, inst.BaseURL())
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to browse before printing results")
	return cmd
}
