package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/version"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()

			fmt.Printf("storyloom %s\n", info.Version)

			if info.GitCommit != "" {
				fmt.Printf("  commit: %s\n", info.GitCommit)
			}

			if info.BuildDate != "" {
				fmt.Printf("  built:  %s\n", info.BuildDate)
			}

			fmt.Printf("  go:     %s\n", info.GoVersion)
			fmt.Printf("  os/arch: %s\n", info.Platform)

			return nil
		},
	}

	return cmd
}
