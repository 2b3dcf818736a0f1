package render

import (
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uilive"
	"github.com/mattn/go-colorable"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"price-ticker/internal/market"
)

// TerminalOptions configure the in-place table view.
type TerminalOptions struct {
	Symbol string
	// Out defaults to a colour-capable stdout.
	Out     io.Writer
	NoColor bool
}

// Terminal redraws a one-row ticker table in place.
type Terminal struct {
	mu     sync.Mutex
	opts   TerminalOptions
	live   *uilive.Writer
	table  *tablewriter.Table
	up     *color.Color
	down   *color.Color
	warn   *color.Color
	faint  *color.Color
	logger zerolog.Logger
}

var terminalColumns = []string{"Symbol", "Price", "Change(24h)", "Market Cap", "Volume(24h)", "Rank", "Status", "Updated"}

// NewTerminal sets up the table writer.
func NewTerminal(opts TerminalOptions, logger zerolog.Logger) *Terminal {
	if opts.Out == nil {
		opts.Out = colorable.NewColorableStdout()
	}
	t := &Terminal{
		opts:   opts,
		live:   uilive.New(),
		up:     color.New(color.FgGreen),
		down:   color.New(color.FgRed),
		warn:   color.New(color.FgYellow),
		faint:  color.New(color.Faint),
		logger: logger.With().Str("component", "render_terminal").Logger(),
	}
	t.live.Out = opts.Out
	if opts.NoColor {
		for _, c := range []*color.Color{t.up, t.down, t.warn, t.faint} {
			c.DisableColor()
		}
	}

	t.table = tablewriter.NewWriter(t.live)
	t.table.SetAutoFormatHeaders(false)
	t.table.SetAutoWrapText(false)
	headers := make([]string, len(terminalColumns))
	for i, hdr := range terminalColumns {
		headers[i] = t.warn.Sprint(hdr)
	}
	t.table.SetHeader(headers)
	t.table.SetCenterSeparator(t.faint.Sprint("-"))
	t.table.SetColumnSeparator(t.faint.Sprint("|"))
	t.table.SetRowSeparator(t.faint.Sprint("-"))
	return t
}

func (t *Terminal) Render(point *market.PricePoint, flags Flags) {
	slots := BuildSlots(point, flags)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.table.ClearRows()
	t.table.Append(t.row(slots))
	t.table.Render()
	if err := t.live.Flush(); err != nil {
		t.logger.Warn().Err(err).Msg("terminal flush failed")
	}
}

func (t *Terminal) row(s Slots) []string {
	change := s.ChangePercent
	switch s.ChangeClass {
	case "up":
		change = t.up.Sprint(change)
	case "down":
		change = t.down.Sprint(change)
	}

	status := s.Status
	switch s.Status {
	case StatusCached:
		status = t.warn.Sprint(status)
	case StatusError:
		status = t.down.Sprint(status)
	}

	updated := "--"
	if !s.UpdatedAt.IsZero() {
		updated = s.UpdatedAt.Local().Format(time.TimeOnly)
	}

	return []string{t.opts.Symbol, s.Price, change, s.MarketCap, s.Volume, s.Rank, status, t.faint.Sprint(updated)}
}
