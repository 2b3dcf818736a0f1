package app

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"price-ticker/internal/news"
)

// NewsOptions configure the news command.
type NewsOptions struct {
	Kind  news.Kind
	Query string
	Page  int
}

// News prints one page of curated articles.
func (a *App) News(ctx context.Context, opts NewsOptions) error {
	articles, err := a.newNews().Articles(ctx)
	if err != nil {
		return err
	}
	page := news.Paginate(news.Filter(articles, opts.Kind, opts.Query), opts.Page, a.Config.News.PageSize)
	if page.Total == 0 {
		fmt.Fprintln(a.Out, "no articles found")
		return nil
	}

	table := tablewriter.NewWriter(a.Out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Published", "Kind", "Title", "Source", "URL"})
	for _, art := range page.Articles {
		table.Append([]string{
			art.PublishedAt.UTC().Format(time.DateOnly),
			string(art.Kind),
			truncate(art.Title, 70),
			art.Source,
			art.URL,
		})
	}
	table.Render()
	fmt.Fprintf(a.Out, "page %d of %d (%d articles)\n", page.Page, page.TotalPages, page.Total)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
