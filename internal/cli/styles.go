// Package cli renders scan results and progress for the terminal.
package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.Color("#7C6FF0")
	okColor     = lipgloss.Color("#4ECDC4")
	warnColor   = lipgloss.Color("#FFE66D")
	errColor    = lipgloss.Color("#FF6B6B")
	infoColor   = lipgloss.Color("#95E1D3")
	mutedColor  = lipgloss.Color("#666666")

	// TitleStyle is used for command headings.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

	SuccessStyle = lipgloss.NewStyle().Foreground(okColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warnColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(infoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(mutedColor)

	// SuspiciousStyle marks subscriptions whose every sighting looked like
	// marketing rather than billing.
	SuspiciousStyle = lipgloss.NewStyle().Foreground(warnColor).Italic(true)

	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	CardIcon    = "💳"
	MailIcon    = "📬"
	BankIcon    = "🏦"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a heading with the card icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(CardIcon + " " + title)
}

// FormatPrompt formats a wizard question.
func FormatPrompt(prompt string) string {
	return promptStyle.Render(prompt + " → ")
}

// FormatConfidence renders a 0-1 confidence as a percentage, colored by tier:
// 80% and up is green, below 50% is muted.
func FormatConfidence(confidence float64) string {
	text := fmt.Sprintf("%.0f%%", confidence*100)
	switch {
	case confidence >= 0.8:
		return SuccessStyle.Render(text)
	case confidence < 0.5:
		return SubtleStyle.Render(text)
	default:
		return WarningStyle.Render(text)
	}
}
