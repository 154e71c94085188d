package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/hass"
)

// NewWatchCommand builds the watch command.
func NewWatchCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream state changes from the instance until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			conn, _, err := requireSession(cmd.Context(), a)
			if err != nil {
				return err
			}

			client := hass.NewClient(*conn,
				hass.WithLogger(a.Logger),
				hass.WithStore(a.Store),
				hass.WithClientID(a.Config.OAuth.ClientID),
				hass.WithTimeout(a.Config.Client.GetTimeout()),
			)

			events, err := client.EventStream(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open event stream: %w", err)
			}

			fmt.Printf("Watching %s (ctrl-c to stop)\n", conn.URL)
			for change := range events {
				stamp := time.Now().Format("15:04:05")
				oldState := "?"
				if change.OldState != nil {
					oldState = change.OldState.State
				}
				newState := "?"
				if change.NewState != nil {
					newState = change.NewState.State
				}
				fmt.Printf("%s  %s: %s -> %s\n", stamp, change.EntityID, oldState, newState)
			}
			return nil
		},
	}
	return cmd
}
