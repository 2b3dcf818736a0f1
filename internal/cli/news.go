package cli

import (
	"github.com/spf13/cobra"

	"price-ticker/internal/app"
	"price-ticker/internal/news"
)

var (
	newsKind  string
	newsQuery string
	newsPage  int
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Show curated news for the tracked coin",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := news.ParseKind(newsKind)
		if err != nil {
			return err
		}
		return getApp().News(cmd.Context(), app.NewsOptions{Kind: kind, Query: newsQuery, Page: newsPage})
	},
}

func init() {
	newsCmd.Flags().StringVar(&newsKind, "kind", "all", "Filter by kind (all, analysis, updates, news)")
	newsCmd.Flags().StringVarP(&newsQuery, "search", "s", "", "Search term matched against title and body")
	newsCmd.Flags().IntVar(&newsPage, "page", 1, "Page number")
}
