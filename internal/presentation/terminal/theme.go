package terminal

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	renderer *lipgloss.Renderer

	border    lipgloss.TerminalColor
	body      lipgloss.TerminalColor
	accent    lipgloss.TerminalColor
	brand     lipgloss.TerminalColor
	highlight lipgloss.TerminalColor
	error     lipgloss.TerminalColor

	base lipgloss.Style
}

func BasicTheme(renderer *lipgloss.Renderer) Theme {
	t := Theme{renderer: renderer}

	t.border = lipgloss.AdaptiveColor{Dark: "#2D3748", Light: "#CBD5E0"}
	t.body = lipgloss.AdaptiveColor{Dark: "#94A3B8", Light: "#64748B"}
	t.accent = lipgloss.AdaptiveColor{Dark: "#F1F5F9", Light: "#0F172A"}
	t.brand = lipgloss.Color("#3B82F6")
	t.highlight = lipgloss.Color("#F59E0B")
	t.error = lipgloss.Color("#EF4444")

	t.base = renderer.NewStyle().Foreground(t.body)
	return t
}

func (t Theme) Border() lipgloss.TerminalColor { return t.border }

func (t Theme) Base() lipgloss.Style {
	return t.base.Copy()
}

func (t Theme) TextBody() lipgloss.Style {
	return t.Base().Foreground(t.body)
}

func (t Theme) TextAccent() lipgloss.Style {
	return t.Base().Foreground(t.accent)
}

func (t Theme) TextBrand() lipgloss.Style {
	return t.Base().Foreground(t.brand).Bold(true)
}

func (t Theme) TextHighlight() lipgloss.Style {
	return t.Base().Foreground(t.highlight)
}

func (t Theme) TextError() lipgloss.Style {
	return t.Base().Foreground(t.error)
}
