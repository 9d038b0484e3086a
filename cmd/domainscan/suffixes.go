package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"domainwatch/backend/internal/feed"
	"domainwatch/backend/internal/match"
	"domainwatch/backend/internal/suffix"
)

var suffixesCmd = &cobra.Command{
	Use:   "suffixes",
	Short: "Manage the public suffix list",
}

var suffixesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the public suffix list into the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := suffix.Refresh(cmd.Context(), pslConfig())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cached %d rules in %s\n", rules, flagPSLCache)
		return nil
	},
}

var suffixesSplitCmd = &cobra.Command{
	Use:   "split <domain>...",
	Short: "Show how domains split into tokens and public suffix",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded := suffix.Load(cmd.Context(), pslConfig())
		splitter := match.NewSplitter(loaded.Suffixes)
		for _, arg := range args {
			tokens, sfx := splitter.ExtractDomainParts(feed.CleanDomain(arg))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tsuffix=%s\ttokens=%s\n", arg, sfx, strings.Join(tokens, ","))
		}
		return nil
	},
}

func init() {
	suffixesCmd.AddCommand(suffixesRefreshCmd)
	suffixesCmd.AddCommand(suffixesSplitCmd)
}
