package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/models"
)

// NewStatesCommand builds the states command.
func NewStatesCommand(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "states [entity_id]",
		Short: "List entity states, or show one entity in full",
		Args:  cobra.MaximumNArgs(1),
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

			if len(args) == 1 {
				state, err := client.State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printEntity(state)
				return nil
			}

			states, err := client.States(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tSTATE\tNAME")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.EntityID, s.State, friendlyName(s))
			}
			return w.Flush()
		},
	}
	return cmd
}

func friendlyName(state models.EntityState) string {
	if name, ok := state.Attributes["friendly_name"]; ok {
		return name.String()
	}
	return ""
}

func printEntity(state *models.EntityState) {
	fmt.Printf("%s: %s\n", state.EntityID, state.State)
	if state.LastChanged != "" {
		fmt.Printf("  last changed: %s\n", state.LastChanged)
	}
	keys := make([]string, 0, len(state.Attributes))
	for k := range state.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, state.Attributes[k].String())
	}
}
