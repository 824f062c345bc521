// Terminal dashboard for a running neptun server: backtest history, popular
// tickers, and per-run equity curves, loaded over the HTTP API.
//
// Configuration is via environment: NEPTUN_SERVER (default
// http://localhost:8000), NEPTUN_EMAIL and NEPTUN_PASSWORD (required).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"neptun/internal/report"
	"neptun/pkg/neptun"
)

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	tabActiveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tabIdleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tickerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	premiumStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	sparkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	highlightBG    = lipgloss.Color("236")
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

const (
	tabRuns = iota
	tabPopular
)

// historyLimit is how many runs the dashboard requests from the server.
const historyLimit = 50

// Messages.
type dashboardMsg struct {
	profile *neptun.Profile
	runs    []neptun.HistoryItem
	popular []neptun.PopularTicker
	err     error
}

type detailMsg struct {
	detail *neptun.RunDetail
	err    error
}

// loadDashboard fetches profile, run history and popular tickers in parallel.
func loadDashboard(c *neptun.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var msg dashboardMsg
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			p, err := c.Profile(gctx)
			msg.profile = p
			return err
		})
		g.Go(func() error {
			r, err := c.History(gctx, historyLimit)
			msg.runs = r
			return err
		})
		g.Go(func() error {
			p, err := c.PopularTickers(gctx)
			msg.popular = p
			return err
		})
		if err := g.Wait(); err != nil {
			return dashboardMsg{err: err}
		}
		return msg
	}
}

// loadDetail fetches one stored run with its full equity curve.
func loadDetail(c *neptun.Client, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		d, err := c.Run(ctx, id)
		return detailMsg{detail: d, err: err}
	}
}

// Model.
type model struct {
	client *neptun.Client
	logger *slog.Logger

	profile *neptun.Profile
	runs    []neptun.HistoryItem
	popular []neptun.PopularTicker
	details map[int64]*neptun.RunDetail

	tab           int
	selected      int
	loading       bool
	detailLoading bool
	errText       string

	spinner       spinner.Model
	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *neptun.Client, logger *slog.Logger) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tickerStyle
	return model{
		client:  client,
		logger:  logger,
		details: make(map[int64]*neptun.RunDetail),
		loading: true,
		spinner: sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadDashboard(m.client))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.tab = (m.tab + 1) % 2
			if m.ready {
				m.viewport.SetContent(m.renderContent())
				m.viewport.GotoTop()
			}
			return m, nil
		case "up", "down":
			if m.tab != tabRuns || len(m.runs) == 0 {
				return m, nil
			}
			if msg.String() == "up" && m.selected > 0 {
				m.selected--
			}
			if msg.String() == "down" && m.selected < len(m.runs)-1 {
				m.selected++
			}
			if m.ready {
				m.viewport.SetContent(m.renderContent())
				m.ensureVisible()
			}
			return m, nil
		case "enter":
			if m.tab != tabRuns || m.selected >= len(m.runs) {
				return m, nil
			}
			id := m.runs[m.selected].ID
			if _, ok := m.details[id]; ok {
				return m, nil
			}
			m.detailLoading = true
			if m.ready {
				m.viewport.SetContent(m.renderContent())
			}
			return m, tea.Batch(m.spinner.Tick, loadDetail(m.client, id))
		case "r":
			m.loading = true
			m.errText = ""
			if m.ready {
				m.viewport.SetContent(m.renderContent())
			}
			return m, tea.Batch(m.spinner.Tick, loadDashboard(m.client))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case dashboardMsg:
		m.loading = false
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.logger.Error("loading dashboard", "error", msg.err)
		} else {
			m.profile = msg.profile
			m.runs = msg.runs
			m.popular = msg.popular
			if m.selected >= len(m.runs) {
				m.selected = 0
			}
			m.logger.Info("dashboard loaded", "runs", len(m.runs), "popular", len(m.popular))
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil

	case detailMsg:
		m.detailLoading = false
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.logger.Warn("loading run detail", "error", msg.err)
		} else {
			m.details[msg.detail.ID] = msg.detail
			m.logger.Info("run detail loaded", "id", msg.detail.ID, "points", len(msg.detail.EquityCurve))
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil

	case spinner.TickMsg:
		if m.loading || m.detailLoading {
			m.spinner, cmd = m.spinner.Update(msg)
			if m.ready {
				m.viewport.SetContent(m.renderContent())
			}
			return m, cmd
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// selectedLine returns the 0-based content line of the selected run row.
func (m *model) selectedLine() int {
	// Column header is line 0; rows follow.
	return 1 + m.selected
}

// ensureVisible scrolls the viewport so the selected row is visible.
func (m *model) ensureVisible() {
	line := m.selectedLine()
	yOff := m.viewport.YOffset
	vpH := m.viewport.Height
	if line < yOff {
		m.viewport.SetYOffset(line)
	} else if line >= yOff+vpH {
		m.viewport.SetYOffset(line - vpH + 1)
	}
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	email := ""
	premium := ""
	if m.profile != nil {
		email = m.profile.Email
		if m.profile.IsPremium {
			premium = "  " + premiumStyle.Render("PREMIUM")
		}
	}
	headerText := fmt.Sprintf(" neptun  %s%s    runs: %d ", email, premium, len(m.runs))
	headerBar := headerStyle.Render(padOrTrunc(headerText, m.width))

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  tab view  up/dn select  enter curve  r refresh  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerBar := footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	var b strings.Builder

	runsTab := tabIdleStyle
	popularTab := tabIdleStyle
	if m.tab == tabRuns {
		runsTab = tabActiveStyle
	} else {
		popularTab = tabActiveStyle
	}
	b.WriteString(" ")
	b.WriteString(runsTab.Render("[ runs ]"))
	b.WriteString(" ")
	b.WriteString(popularTab.Render("[ popular ]"))
	b.WriteString("\n\n")

	if m.errText != "" {
		b.WriteString(errorStyle.Render("  " + m.errText))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  r to retry"))
		b.WriteString("\n")
		return b.String()
	}
	if m.loading {
		b.WriteString("  " + m.spinner.View() + " loading dashboard...")
		b.WriteString("\n")
		return b.String()
	}

	if m.tab == tabPopular {
		renderPopular(&b, m.popular)
		return b.String()
	}
	m.renderRuns(&b)
	return b.String()
}

func (m model) renderRuns(b *strings.Builder) {
	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("  no backtests yet"))
		b.WriteString("\n")
		return
	}

	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %4s  %-6s  %-23s  %8s  %6s  %6s  %s",
		"ID", "TICKER", "RANGE", "RETURN", "WIN", "TRADES", "CREATED")))
	b.WriteString("\n")

	for i, run := range m.runs {
		hl := i == m.selected
		retStyle := gainStyle
		if run.TotalReturn < 0 {
			retStyle = lossStyle
		}
		rangeStr := run.StartDate + ".." + run.EndDate
		created := run.CreatedAt
		if t, err := time.Parse(time.RFC3339, run.CreatedAt); err == nil {
			created = t.Local().Format("2006-01-02 15:04")
		}
		b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("  %4d  ", run.ID)))
		b.WriteString(hlStyle(tickerStyle, hl).Render(fmt.Sprintf("%-6s", run.Ticker)))
		b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("  %-23s  ", rangeStr)))
		b.WriteString(hlStyle(retStyle, hl).Render(fmt.Sprintf("%8s", report.FormatSignedPct(run.TotalReturn))))
		b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("  %5.1f%%  %6d  %s",
			run.WinRate, run.NumberOfTrades, created)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.detailLoading {
		b.WriteString("  " + m.spinner.View() + " loading equity curve...")
		b.WriteString("\n")
		return
	}
	detail, ok := m.details[m.runs[m.selected].ID]
	if !ok {
		b.WriteString(dimStyle.Render("  enter to load the equity curve"))
		b.WriteString("\n")
		return
	}
	renderDetail(b, detail, m.width)
}

func renderDetail(b *strings.Builder, d *neptun.RunDetail, width int) {
	b.WriteString(fmt.Sprintf("  %s  %s..%s  sma %d  if %s then %s else %s\n",
		tickerStyle.Render(d.Ticker), d.StartDate, d.EndDate, d.SMAPeriod,
		d.Rule.IfCondition, d.Rule.ThenAction, d.Rule.ElseAction))

	values := make([]float64, len(d.EquityCurve))
	for i, p := range d.EquityCurve {
		values[i] = p.PortfolioValue
	}
	sparkWidth := width - 4
	if sparkWidth > 60 {
		sparkWidth = 60
	}
	b.WriteString("  " + sparkStyle.Render(report.Sparkline(values, sparkWidth)))
	b.WriteString("\n")

	retStyle := gainStyle
	if d.TotalReturn < 0 {
		retStyle = lossStyle
	}
	b.WriteString(fmt.Sprintf("  final %s  return %s  trades %d  win %.1f%%  sharpe %.2f\n",
		report.FormatMoney(d.FinalPortfolioValue),
		retStyle.Render(report.FormatSignedPct(d.TotalReturn)),
		d.NumberOfTrades, d.WinRate, d.SharpeRatio))
}

func renderPopular(b *strings.Builder, popular []neptun.PopularTicker) {
	if len(popular) == 0 {
		b.WriteString(dimStyle.Render("  no backtests recorded yet"))
		b.WriteString("\n")
		return
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %4s  %-6s  %s", "RANK", "TICKER", "RUNS")))
	b.WriteString("\n")
	for i, p := range popular {
		b.WriteString(fmt.Sprintf("  %4d  ", i+1))
		b.WriteString(tickerStyle.Render(fmt.Sprintf("%-6s", p.Ticker)))
		b.WriteString(fmt.Sprintf("  %s\n", report.FormatInt(p.Count)))
	}
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

func main() {
	serverURL := "http://localhost:8000"
	if s := os.Getenv("NEPTUN_SERVER"); s != "" {
		serverURL = s
	}
	email := os.Getenv("NEPTUN_EMAIL")
	password := os.Getenv("NEPTUN_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "NEPTUN_EMAIL and NEPTUN_PASSWORD environment variables not set")
		os.Exit(1)
	}

	logPath := fmt.Sprintf("/tmp/neptun-tui-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client := neptun.NewClient(serverURL)

	// Authenticate before taking over the terminal.
	fmt.Fprint(os.Stderr, "logging in...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	tok, err := client.Login(ctx, email, password)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, " failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, " ok (user %d)\n", tok.UserID)
	logger.Info("logged in", "server", serverURL, "user", tok.UserID)

	p := tea.NewProgram(
		initialModel(client, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
