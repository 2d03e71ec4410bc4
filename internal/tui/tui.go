// Package tui provides a Bubble Tea terminal user interface for watching a
// track resolve and cache in real time.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/veliu/trackcache/internal/engine"
	"github.com/veliu/trackcache/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateResolving
	StateCaching
	StateComplete
	StateError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   engine.StatusLevel
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	eng       *engine.Engine
	logs      []LogEntry
	err       error

	key  model.TrackKey
	uri  string
	info model.CacheInfo

	statusCh chan engine.StatusEvent

	ctx    context.Context
	cancel context.CancelFunc

	verbose bool

	width  int
	height int
}

// NewModel creates a new TUI model around an existing engine.
func NewModel(eng *engine.Engine) Model {
	ti := textinput.New()
	ti.Placeholder = "youtube:dQw4w9WgXcQ"
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		eng:       eng,
		logs:      make([]LogEntry, 0),
		statusCh:  make(chan engine.StatusEvent, 32),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenStatus())
}

// Message types
type (
	// StatusMsg carries an engine status event into the UI.
	StatusMsg struct {
		Event engine.StatusEvent
	}

	// ResolvedMsg is sent when resolution finishes.
	ResolvedMsg struct {
		URI string
		Err error
	}

	// TickMsg drives periodic cache-progress polling.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateResolving || m.state == StateCaching {
				m.cancel()
				m.state = StateError
				m.err = fmt.Errorf("cancelled by user")
			}

		case "enter":
			if m.state == StateInput && m.textInput.Value() != "" {
				key, err := parseTrackKey(m.textInput.Value())
				if err != nil {
					m.err = err
					m.state = StateError
					return m, nil
				}
				m.key = key
				m.state = StateResolving
				return m, tea.Batch(m.resolve(), m.spinner.Tick)
			}

		case "v":
			if m.state == StateInput {
				m.verbose = !m.verbose
			}

		case "c":
			if m.state == StateComplete || m.state == StateError {
				m.eng.ClearCache(m.key)
				m.logs = append(m.logs, LogEntry{Message: fmt.Sprintf("Cleared cache for %s", m.key), Level: engine.LevelInfo})
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.state = StateInput
				m.logs = nil
				m.err = nil
				m.uri = ""
				m.info = model.CacheInfo{}
				m.ctx, m.cancel = context.WithCancel(context.Background())
				m.textInput.SetValue("")
				m.textInput.Focus()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case StatusMsg:
		cmds = append(cmds, m.listenStatus())
		if msg.Event.Level == engine.LevelVerbose && !m.verbose {
			return m, tea.Batch(cmds...)
		}
		m.logs = append(m.logs, LogEntry{Message: msg.Event.Message, Level: msg.Event.Level})
		if len(m.logs) > 10 {
			m.logs = m.logs[len(m.logs)-10:]
		}

	case ResolvedMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
		} else {
			m.uri = msg.URI
			if strings.HasPrefix(m.uri, m.eng.CacheDir()) {
				m.state = StateCaching
				cmds = append(cmds, m.tickProgress())
			} else {
				// Direct remote URL: nothing to watch.
				m.state = StateComplete
			}
		}

	case TickMsg:
		if m.state == StateCaching {
			m.info = m.eng.GetCacheInfo(m.key)
			if m.info.IsFullyCached {
				m.state = StateComplete
			} else {
				cmds = append(cmds, m.progress.SetPercent(m.info.Percentage/100), m.tickProgress())
			}
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// tickProgress returns a command to poll cache progress.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// listenStatus waits for the next engine status event.
func (m Model) listenStatus() tea.Cmd {
	ch := m.statusCh
	return func() tea.Msg {
		return StatusMsg{Event: <-ch}
	}
}

// resolve runs the resolution in the background.
func (m *Model) resolve() tea.Cmd {
	key := m.key
	ctx := m.ctx
	eng := m.eng
	ch := m.statusCh
	onStatus := func(event engine.StatusEvent) {
		select {
		case ch <- event:
		default:
		}
	}
	return func() tea.Msg {
		uri, err := eng.ResolveAudioURI(ctx, key, model.TrackMeta{}, onStatus)
		return ResolvedMsg{URI: uri, Err: err}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("trackcache"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Resolve and progressively cache audio streams"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateResolving:
		b.WriteString(m.viewResolving())
	case StateCaching:
		b.WriteString(m.viewCaching())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter track (source:id):"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[x]"
	}
	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Verbose output (v)\n", verboseCheck))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Cache dir: %s", m.eng.CacheDir())))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewResolving() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Resolving %s...", m.key)))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewCaching() string {
	var b strings.Builder

	b.WriteString(successStyle.Render(fmt.Sprintf("Caching %s", m.key)))
	b.WriteString("\n\n")
	b.WriteString(m.progress.ViewAs(m.info.Percentage / 100))
	b.WriteString("\n")

	speed := "idle"
	if m.info.DownloadSpeed > 0 {
		speed = humanize.Bytes(uint64(m.info.DownloadSpeed)) + "/s"
	}
	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"%.1f%% | %s of ~%s | %s | retries: %d",
		m.info.Percentage,
		humanize.Bytes(uint64(m.info.FileSize)),
		humanize.Bytes(uint64(m.info.TotalFileSize)),
		speed,
		m.info.RetryCount,
	)))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	local := strings.HasPrefix(m.uri, m.eng.CacheDir())
	var detail string
	if local {
		detail = fmt.Sprintf("Cached locally (%s)\n%s", humanize.Bytes(uint64(m.info.FileSize)), m.uri)
	} else {
		detail = fmt.Sprintf("Streaming from remote\n%s", m.uri)
	}

	b.WriteString(boxStyle.Render(fmt.Sprintf("Ready to play: %s\n\n%s", m.key, detail)))

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}
	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "-"
		switch log.Level {
		case engine.LevelError:
			style = errorStyle
			prefix = "x"
		case engine.LevelWarning:
			style = warningStyle
			prefix = "!"
		case engine.LevelSuccess:
			style = successStyle
			prefix = "+"
		case engine.LevelInfo:
			style = infoStyle
			prefix = ">"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: resolve | v: verbose | esc: quit"
	case StateResolving, StateCaching:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: another track | c: clear cache | q: quit"
	}
	return ""
}

// parseTrackKey parses "source:id" input. A bare id gets the unknown source
// and the generic fallback chain.
func parseTrackKey(input string) (model.TrackKey, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.TrackKey{}, fmt.Errorf("empty track key")
	}

	source, id, found := strings.Cut(input, ":")
	if !found {
		return model.TrackKey{ID: input, Source: model.SourceUnknown}, nil
	}
	if id == "" {
		return model.TrackKey{}, fmt.Errorf("missing track id in %q", input)
	}

	switch model.Source(source) {
	case model.SourceYouTube, model.SourceAudius, model.SourceJamendo, model.SourceArchive:
		return model.TrackKey{ID: id, Source: model.Source(source)}, nil
	default:
		return model.TrackKey{}, fmt.Errorf("unknown source %q", source)
	}
}

// Run starts the TUI application around the given engine.
func Run(eng *engine.Engine) error {
	p := tea.NewProgram(NewModel(eng), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
