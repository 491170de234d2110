// Package ui renders the sign-in progress and dashboard screens. The
// bubbletea update loop is the single serialized UI context; session
// callbacks reach it through ProgramDispatcher.
package ui

import (
	"context"
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ledgerview/ledgerview/internal/api"
	"github.com/ledgerview/ledgerview/internal/session"
)

type screen int

const (
	screenSigningIn screen = iota
	screenLoading
	screenDashboard
	screenError
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	balanceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	spendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	incomeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	expenseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// Config wires a Model to its collaborators.
type Config struct {
	Controller *session.Controller
	APIBaseURL string

	// NewClient is swappable for tests. Nil means api.NewClient.
	NewClient func(ctx context.Context, baseURL, token string) DashboardFetcher
}

// DashboardFetcher is what the view needs from the API client.
type DashboardFetcher interface {
	GetDashboard(ctx context.Context) (*api.Dashboard, error)
}

// Model is the bubbletea model for the whole client.
type Model struct {
	controller *session.Controller
	apiBaseURL string
	newClient  func(ctx context.Context, baseURL, token string) DashboardFetcher

	screen    screen
	client    DashboardFetcher
	dashboard *api.Dashboard
	notice    string
	err       error
	width     int
}

func New(cfg Config) Model {
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(ctx context.Context, baseURL, token string) DashboardFetcher {
			return api.NewClient(ctx, baseURL, token)
		}
	}
	return Model{
		controller: cfg.Controller,
		apiBaseURL: cfg.APIBaseURL,
		newClient:  newClient,
		screen:     screenSigningIn,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case execMsg:
		msg.fn()
		return m, nil

	case AuthenticatedMsg:
		m.client = m.newClient(context.Background(), m.apiBaseURL, msg.Token)
		m.screen = screenLoading
		m.err = nil
		return m, m.fetchDashboard()

	case StateChangedMsg:
		if msg.State == session.StateSigningIn {
			m.screen = screenSigningIn
			m.dashboard = nil
			m.client = nil
		}
		return m, nil

	case NoticeMsg:
		m.notice = msg.Notice.Message
		return m, nil

	case dashboardLoadedMsg:
		m.dashboard = msg.dashboard
		m.screen = screenDashboard
		m.notice = ""
		return m, nil

	case dashboardErrMsg:
		if errors.Is(msg.err, api.ErrCredentialRejected) {
			m.notice = "session expired, please sign in again"
			// Clearing constructs a fresh shell; keep that off the
			// update loop.
			controller := m.controller
			return m, func() tea.Msg {
				controller.CredentialRejected()
				return nil
			}
		}
		m.err = msg.err
		m.screen = screenError
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "r":
		switch m.screen {
		case screenSigningIn:
			controller := m.controller
			return m, func() tea.Msg {
				controller.Retry()
				return nil
			}
		case screenDashboard, screenError:
			if m.client != nil {
				m.screen = screenLoading
				return m, m.fetchDashboard()
			}
		}
		return m, nil

	case "o":
		if m.screen == screenDashboard || m.screen == screenError {
			controller := m.controller
			return m, func() tea.Msg {
				controller.SignOut()
				return nil
			}
		}
		return m, nil
	}

	return m, nil
}

func (m Model) fetchDashboard() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		dashboard, err := client.GetDashboard(context.Background())
		if err != nil {
			return dashboardErrMsg{err: err}
		}
		return dashboardLoadedMsg{dashboard: dashboard}
	}
}

func (m Model) View() string {
	var body string
	switch m.screen {
	case screenSigningIn:
		body = m.viewSigningIn()
	case screenLoading:
		body = faintStyle.Render("loading dashboard...")
	case screenDashboard:
		body = m.viewDashboard()
	case screenError:
		body = errorStyle.Render("error: "+m.err.Error()) + "\n" + faintStyle.Render("r to retry, o to sign out, q to quit")
	}

	out := titleStyle.Render("ledgerview") + "\n\n" + body
	if m.notice != "" {
		out += "\n\n" + noticeStyle.Render(m.notice)
	}
	return out + "\n"
}

func (m Model) viewSigningIn() string {
	return "waiting for sign-in in the browser window...\n\n" +
		faintStyle.Render("complete the hosted sign-in; this screen advances by itself\nr to reload the sign-in page, q to quit")
}

func (m Model) viewDashboard() string {
	d := m.dashboard
	out := "total balance  " + balanceStyle.Render(formatUSD(d.TotalBalance)) + "\n" +
		"monthly spend  " + spendStyle.Render(formatUSD(d.MonthlySpend)) + "\n"

	if len(d.Accounts) > 0 {
		out += "\naccounts\n"
		for _, account := range d.Accounts {
			marker := "  "
			if account.IsDefault {
				marker = "* "
			}
			out += marker + padRight(account.Name, 20) + formatUSD(account.Balance) + "\n"
		}
	}

	out += "\nrecent transactions\n"
	if len(d.RecentTransactions) == 0 {
		out += faintStyle.Render("  nothing yet") + "\n"
	}
	for _, tx := range d.RecentTransactions {
		amount := formatUSD(tx.Amount)
		if tx.Type == api.TypeExpense {
			amount = expenseStyle.Render("-" + amount)
		} else {
			amount = incomeStyle.Render("+" + amount)
		}
		out += "  " + faintStyle.Render(padRight(tx.Date, 12)) + padRight(tx.Description, 28) + amount + "\n"
	}

	out += "\n" + faintStyle.Render("r to refresh, o to sign out, q to quit")
	return out
}

// padRight truncates by rune so multi-byte descriptions never split
// mid-character.
func padRight(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return string(runes[:width-1]) + " "
	}
	return s + strings.Repeat(" ", width-len(runes))
}
