package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"price-ticker/internal/alerts"
	"price-ticker/internal/format"
	"price-ticker/internal/storage"
)

// AddAlert validates and stores a new price alert.
func (a *App) AddAlert(ctx context.Context, threshold, direction string) error {
	return a.withStore(ctx, func(store *storage.Store) error {
		book, err := a.openBook(ctx, store)
		if err != nil {
			return err
		}
		rule, err := book.Add(ctx, threshold, direction)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "added alert %d: %s\n", rule.ID, rule)
		return nil
	})
}

// ListAlerts prints the stored alerts in display order.
func (a *App) ListAlerts(ctx context.Context) error {
	return a.withStore(ctx, func(store *storage.Store) error {
		book, err := a.openBook(ctx, store)
		if err != nil {
			return err
		}
		rules := book.List()
		if len(rules) == 0 {
			fmt.Fprintln(a.Out, "no alerts configured")
			return nil
		}
		printRules(a, rules)
		return nil
	})
}

// DeleteAlert removes an alert by id.
func (a *App) DeleteAlert(ctx context.Context, id int64) error {
	return a.withStore(ctx, func(store *storage.Store) error {
		book, err := a.openBook(ctx, store)
		if err != nil {
			return err
		}
		if err := book.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "deleted alert %d\n", id)
		return nil
	})
}

func printRules(a *App, rules []alerts.Rule) {
	table := tablewriter.NewWriter(a.Out)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"ID", "Type", "Price", "Status", "Created (UTC)"})
	for _, r := range rules {
		status := "pending"
		if r.Triggered {
			status = "triggered"
		}
		threshold := r.Threshold
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			string(r.Direction),
			format.PriceUSD(&threshold),
			status,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}
