package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the color pair every style derives from.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the cyan accent used by the monitor.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00d7ff"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles derives styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Section is one labeled region of the frame. Content is a getter so
// the frame always renders current data.
type Section struct {
	Label   string
	Content func() []string
}

// Frame draws a bordered terminal frame: title line with a status
// tag, labeled sections splitting the remaining height, and a help
// line under the bottom border.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render draws the frame at the given terminal size.
func (f Frame) Render(width, height int) string {
	if width == 0 || height == 0 {
		return "Loading..."
	}

	bc := f.Styles.Border
	contentWidth := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	title := f.Styles.Title.Render(f.Title)
	status := f.Styles.Help.Render("[" + f.Status + "]")
	pad := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	lines = append(lines, bc.Render("│")+" "+title+" "+status+
		strings.Repeat(" ", pad)+" "+bc.Render("│"))
	lines = append(lines, bc.Render("│")+strings.Repeat(" ", width-2)+bc.Render("│"))

	// Fixed rows: top border, title, spacer, bottom border, help,
	// plus one label separator per section. The rest splits evenly.
	numSections := max(len(f.Sections), 1)
	sectionHeight := max((height-5-numSections)/numSections, 2)

	for _, sec := range f.Sections {
		lines = append(lines, f.renderSection(bc, sec.Label, sec.Content(), sectionHeight, width, contentWidth)...)
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	lines = append(lines, f.Styles.Help.Render(f.Help))
	return strings.Join(lines, "\n")
}

// renderSection draws the label separator and the last lines of
// content that fit the section height.
func (f Frame) renderSection(bc lipgloss.Style, label string, content []string, height, width, contentWidth int) []string {
	var lines []string

	labelText := f.Styles.Label.Render(label)
	pad := max(0, width-3-lipgloss.Width(labelText))
	lines = append(lines, bc.Render("├")+bc.Render("─")+labelText+
		bc.Render(strings.Repeat("─", pad))+bc.Render("┤"))

	start := 0
	if len(content) > height {
		start = len(content) - height
	}
	for i := 0; i < height; i++ {
		text := ""
		if idx := start + i; idx < len(content) {
			text = content[idx]
		}
		if contentWidth > 1 && lipgloss.Width(text) > contentWidth {
			text = truncate(text, contentWidth-1) + "…"
		}
		lines = append(lines, bc.Render("│")+" "+text+
			strings.Repeat(" ", max(0, contentWidth-lipgloss.Width(text)))+" "+bc.Render("│"))
	}
	return lines
}

// truncate cuts s at the given display width without splitting a
// multi-byte rune.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	used := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if used+w > width {
			return string(runes[:i])
		}
		used += w
	}
	return s
}
