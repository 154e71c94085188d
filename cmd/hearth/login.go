package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

// NewLoginCommand builds the OAuth login command.
func NewLoginCommand(open appOpener) *cobra.Command {
	var instanceURL string
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to an instance with OAuth",
		Long: `Log in to an instance with OAuth.

Opens the authorization page in your browser. After approving access you will
be redirected to a hearth:// URL; paste that full URL back here to finish.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.Session.BeginOAuth()
			if err != nil {
				return fmt.Errorf("failed to start login: %w", err)
			}

			opened := false
			if !noBrowser {
				if err := browser.OpenURL(req.AuthorizeURL); err == nil {
					opened = true
				} else {
					a.Logger.Warn().Err(err).Msg("Could not open browser")
				}
			}
			if opened {
				fmt.Println("Opened the authorization page in your browser.")
			} else {
				fmt.Println("Open this URL in your browser to authorize:")
				fmt.Println("  " + req.AuthorizeURL)
			}

			fmt.Fprint(os.Stdout, "Paste the callback URL: ")
			reader := bufio.NewReader(os.Stdin)
			callback, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			callback = strings.TrimSpace(callback)
			if callback == "" {
				return fmt.Errorf("callback URL is required")
			}

			conn, err := a.Session.CompleteOAuth(cmd.Context(), callback, instanceURL)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Printf("Logged in to %s\n", conn.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceURL, "instance-url", "", "instance base URL when the callback does not carry one")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	return cmd
}
