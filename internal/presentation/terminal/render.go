// Package terminal renders session snapshots for the headless player.
package terminal

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hilthontt/roomsync/internal/session"
	"github.com/muesli/termenv"
)

const transcriptTail = 8

type Renderer struct {
	renderer *lipgloss.Renderer
	theme    Theme
}

func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{renderer: r, theme: BasicTheme(r)}
}

// NewPlainRenderer renders without colors, for logs and tests.
func NewPlainRenderer() *Renderer {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	return &Renderer{renderer: r, theme: BasicTheme(r)}
}

// Invite shows the room code with its join link and a scannable code for it.
func (r *Renderer) Invite(code, link string) (string, error) {
	qr, err := QR(link)
	if err != nil {
		return "", err
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		r.theme.TextBrand().Render("Room "+code),
		r.theme.TextBody().Render(link),
		qr,
	), nil
}

func (r *Renderer) Status(connected bool) string {
	if connected {
		return r.theme.TextHighlight().Render("● connected")
	}
	return r.theme.TextError().Render("○ reconnecting")
}

func (r *Renderer) Leaderboard(standings []session.Standing, self string) string {
	rows := make([][]string, 0, len(standings))
	for _, s := range standings {
		name := s.DisplayName
		if s.MemberID == self {
			name += " (you)"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Rank),
			name,
			strconv.Itoa(s.Points),
			strconv.Itoa(s.Streak),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.renderer.NewStyle().Foreground(r.theme.Border())).
		Headers("#", "Player", "Points", "Streak").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.theme.TextAccent().Bold(true).Padding(0, 1)
			}
			return r.theme.Base().Padding(0, 1)
		}).
		Render()
}

func (r *Renderer) Line(line session.Line) string {
	name := r.theme.TextAccent().Render(line.Username)
	switch line.Kind {
	case session.LineCorrectAnswer:
		return name + r.theme.TextHighlight().Render(fmt.Sprintf(" got it! +%d", line.Points))
	default:
		return name + ": " + r.theme.TextBody().Render(line.Message)
	}
}

// View renders a whole session snapshot. content formats the per-game round
// payload and may be nil.
func View[C any](r *Renderer, v session.View[C], content func(C) string) string {
	var header string
	switch v.Phase {
	case session.PhasePlaying:
		header = fmt.Sprintf("Round %d/%d  %ds left", v.Round, v.TotalRounds, v.Remaining)
	case session.PhaseRanking:
		header = fmt.Sprintf("Round %d/%d  scores", v.Round, v.TotalRounds)
	default:
		header = string(v.Phase)
	}
	if v.IsHost {
		header += "  [host]"
	}

	parts := []string{
		r.theme.TextBrand().Render(v.GameID+" "+v.RoomCode) + "  " + r.Status(v.Connected),
		r.theme.TextAccent().Render(header),
	}
	if v.Phase == session.PhasePlaying && content != nil {
		parts = append(parts, content(v.Content))
	}
	parts = append(parts, r.Leaderboard(v.Leaderboard, v.MemberID))

	lines := v.Transcript
	if len(lines) > transcriptTail {
		lines = lines[len(lines)-transcriptTail:]
	}
	chat := make([]string, 0, len(lines))
	for _, l := range lines {
		chat = append(chat, r.Line(l))
	}
	if len(chat) > 0 {
		parts = append(parts, strings.Join(chat, "\n"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
