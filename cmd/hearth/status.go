package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/models"
)

// NewStatusCommand builds the status command.
func NewStatusCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active connection and check the instance is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			conn, client, err := requireSession(cmd.Context(), a)
			if err != nil {
				return err
			}

			name := conn.Name
			if name == "" {
				name = conn.URL
			}
			fmt.Printf("Connection: %s (%s)\n", name, conn.URL)
			if conn.HasRefreshToken() {
				fmt.Println("Auth:       OAuth (auto-refresh)")
				if exp, ok := models.AccessTokenExpiry(conn.AccessToken); ok {
					fmt.Printf("Expires:    %s\n", exp.Local().Format("2006-01-02 15:04:05"))
				}
			} else {
				fmt.Println("Auth:       long-lived access token")
			}

			message, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("instance unreachable: %w", err)
			}
			fmt.Printf("Status:     %s\n", message)
			return nil
		},
	}
	return cmd
}
