package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCommand builds the logout command.
func NewLogoutCommand(open appOpener) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Disconnect from the active instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Session.LoadPersisted(cmd.Context()); err != nil {
				return err
			}
			conn := a.Session.Current()
			if conn == nil {
				fmt.Println("Not connected.")
				return nil
			}

			a.Session.Disconnect()
			if forget {
				if err := a.Store.Delete(cmd.Context(), conn.ID); err != nil {
					return fmt.Errorf("failed to remove saved connection: %w", err)
				}
				fmt.Printf("Disconnected from %s and removed the saved connection\n", conn.URL)
				return nil
			}

			fmt.Printf("Disconnected from %s (saved for next time; use --forget to remove)\n", conn.URL)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forget, "forget", false, "also delete the saved connection and its tokens")
	return cmd
}
