package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avhall/hearth/internal/common"
)

// NewVersionCommand builds the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hearth version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(common.GetFullVersion())
		},
	}
}
