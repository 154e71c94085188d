package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCallCommand builds the call command.
func NewCallCommand(open appOpener) *cobra.Command {
	var entityID string
	var dataJSON string

	cmd := &cobra.Command{
		Use:   "call <domain> <service>",
		Short: "Call a service, for example 'call light turn_on --entity light.kitchen'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			_, client, err := requireSession(cmd.Context(), a)
			if err != nil {
				return err
			}

			data := map[string]any{}
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("invalid --data payload: %w", err)
				}
			}
			if entityID != "" {
				data["entity_id"] = entityID
			}

			changed, err := client.CallService(cmd.Context(), args[0], args[1], data)
			if err != nil {
				return err
			}

			if len(changed) == 0 {
				fmt.Println("Service called; no states changed.")
				return nil
			}
			for _, state := range changed {
				fmt.Printf("%s -> %s\n", state.EntityID, state.State)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "target entity id")
	cmd.Flags().StringVar(&dataJSON, "data", "", "service data as a JSON object")
	return cmd
}
