package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whiteout-project/wosbot/internal/banner"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "wosbot",
		Short: "Alliance roster bot for Whiteout Survival",
		Long:  `wosbot tracks alliance rosters, refreshes player data on a schedule, redeems gift codes, and posts change notifications to Discord.`,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newRedeemCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show wosbot version",
		Run: func(cmd *cobra.Command, args []string) {
			banner.PrintWithVersion(version)
		},
	}
}
