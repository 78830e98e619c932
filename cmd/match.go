package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/config"
	"github.com/Jasonzhangf/webauto-sub011/internal/observability"
)

var (
	matchSite        string
	matchURL         string
	matchMaxDepth    int
	matchMaxChildren int
	matchNoCache     bool
)

// matchCmd runs a single match and prints the snapshot forest as JSON.
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a site's container library against a page once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.GetLogger()

		components, err := buildComponents(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		result, err := components.Engine.Match(cmd.Context(), schemas.MatchPayload{
			Profile:     matchSite,
			URL:         matchURL,
			MaxDepth:    matchMaxDepth,
			MaxChildren: matchMaxChildren,
			Cache:       !matchNoCache,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchSite, "site", "", "site profile to match (required)")
	matchCmd.Flags().StringVar(&matchURL, "url", "", "page URL or file:// path (required)")
	matchCmd.Flags().IntVar(&matchMaxDepth, "max-depth", 0, "levels to walk (0 = configured default)")
	matchCmd.Flags().IntVar(&matchMaxChildren, "max-children", 0, "matched nodes to expand per level (0 = configured default)")
	matchCmd.Flags().BoolVar(&matchNoCache, "no-cache", false, "bypass the snapshot cache")
	_ = matchCmd.MarkFlagRequired("site")
	_ = matchCmd.MarkFlagRequired("url")
}
