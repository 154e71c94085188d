package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewConnectCommand builds the connect command for long-lived access tokens.
func NewConnectCommand(open appOpener) *cobra.Command {
	var name string
	var token string

	cmd := &cobra.Command{
		Use:   "connect <url>",
		Short: "Connect to an instance with a long-lived access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			tokenValue := token
			if tokenValue == "" {
				fmt.Fprint(os.Stdout, "Access token: ")
				tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stdout)
				if err != nil {
					return err
				}
				tokenValue = string(tokenBytes)
			}
			if tokenValue == "" {
				return fmt.Errorf("access token is required")
			}

			conn, err := a.Session.Connect(cmd.Context(), args[0], tokenValue, name)
			if err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}

			fmt.Printf("Connected to %s\n", conn.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name for this connection")
	cmd.Flags().StringVar(&token, "token", "", "long-lived access token (prompted when omitted)")
	return cmd
}
