package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"recall/internal/retrieval"
	"recall/internal/service"
)

// MemoryPort is the TUI-facing subset of the memory service.
type MemoryPort interface {
	AddText(ctx context.Context, title, content string) (service.AddResult, error)
	Ask(ctx context.Context, query string) (service.Answer, error)
	ImportFiles(ctx context.Context, paths []string) (service.ImportResult, error)
	Rebuild(ctx context.Context) (retrieval.RebuildStats, error)
	Stats() retrieval.Stats
}

const commandTimeout = 2 * time.Minute

const helpText = `Type a question and press Enter.
  /add <title> | <content>   store a snippet
  /import <path-or-glob>...  store .txt files
  /rebuild                   rebuild the index
  /stats                     show index stats
  Ctrl+C                     quit`

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service   MemoryPort
	input     textinput.Model
	viewport  viewport.Model
	answer    *service.Answer
	message   string
	status    string
	ready     bool
	lastQuery string
}

// New creates a new TUI model instance.
func New(svc MemoryPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask something, or /add title | content"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: svc, input: ti, viewport: vp, message: helpText, status: statsLine(svc.Stats())}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, stats, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			m = m.run(line)
			m.viewport.SetContent(m.renderCurrent())
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run executes one input line, either a slash command or a question.
func (m Model) run(line string) Model {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		m.answer, m.message = nil, helpText
	case "/add":
		title, content, ok := strings.Cut(arg, "|")
		if !ok {
			m.status = "Usage: /add <title> | <content>"
			return m
		}
		res, err := m.service.AddText(ctx, title, content)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.status = fmt.Sprintf("Stored %q (%s)", strings.TrimSpace(title), res.Outcome)
		if !res.Indexed {
			m.status += " (index not updated)"
		}
	case "/import":
		res, err := m.service.ImportFiles(ctx, strings.Fields(arg))
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.status = fmt.Sprintf("Imported %d new, %d updated", res.Inserted, res.Updated)
		if !res.Indexed {
			m.status += " (index not updated)"
		}
	case "/rebuild":
		st, err := m.service.Rebuild(ctx)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m
		}
		m.status = fmt.Sprintf("Rebuilt %d documents (%d embedded, %d reused, %d failed) in %s",
			st.Documents, st.Embedded, st.Reused, st.Failed, st.Duration.Round(time.Millisecond))
	case "/stats":
		m.status = statsLine(m.service.Stats())
	default:
		if strings.HasPrefix(cmd, "/") {
			m.status = "Unknown command " + cmd + ", try /help"
			return m
		}
		ans, err := m.service.Ask(ctx, line)
		if err != nil {
			m.status = "Error: " + err.Error()
			m.answer = nil
			return m
		}
		m.answer = &ans
		m.lastQuery = line
		m.status = fmt.Sprintf("Answer for %q", line)
	}
	return m
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("recall")
	stats := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(statsLine(m.service.Stats()))
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + stats + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.answer == nil {
		return m.message
	}
	a := m.answer
	if !a.Found {
		return a.Text
	}
	title := fmt.Sprintf("#%d %s  distance=%.3f", a.RecordID, a.Title, a.Distance)
	if a.Refined != "" && a.Refined != m.lastQuery {
		title += fmt.Sprintf("  refined=%q", a.Refined)
	}
	return title + "\n\n" + highlightBestSentence(a.Text, m.lastQuery)
}

func statsLine(s retrieval.Stats) string {
	if s.GenerationID == "" || s.BuiltAt == nil {
		return "Index not built yet"
	}
	return fmt.Sprintf("%d documents  dim=%d  embedder=%s  built %s",
		s.Documents, s.Dimension, s.Embedder, s.BuiltAt.Local().Format(time.Kitchen))
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?|]+[.!?|])`)
)

// highlightBestSentence renders the sentence sharing the most words with query in bold.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var sentences []string
	end := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[loc[0]:loc[1]])
		end = loc[1]
	}
	if rest := strings.TrimSpace(text[end:]); rest != "" {
		sentences = append(sentences, rest)
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestIdx < 0 {
		return text
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
