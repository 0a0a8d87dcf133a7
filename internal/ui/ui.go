// Package ui renders wgsync's terminal output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	okStyle      = lipgloss.NewStyle().Foreground(green)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	nameStyle    = lipgloss.NewStyle().Bold(true)
	borderStyle  = lipgloss.NewStyle().Foreground(faint)
	headerStyle  = lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	oddRowStyle  = cellStyle.Foreground(dim)
	evenRowStyle = cellStyle
)

// PeerState is the bucket a peer landed in during classification.
type PeerState int

const (
	PeerSelf PeerState = iota
	PeerNew
	PeerExisting
	PeerMissing
)

func (s PeerState) String() string {
	switch s {
	case PeerSelf:
		return "self"
	case PeerNew:
		return "new"
	case PeerExisting:
		return "existing"
	case PeerMissing:
		return "missing"
	default:
		return "unknown"
	}
}

func (s PeerState) style() lipgloss.Style {
	switch s {
	case PeerSelf:
		return accentStyle
	case PeerNew:
		return okStyle
	case PeerMissing:
		return warnStyle
	default:
		return mutedStyle
	}
}

// Key renders a base64 public key coloured by its state.
func Key(k wgtypes.Key, s PeerState) string {
	return s.style().Render(k.String())
}

// State renders the state name coloured like its keys.
func State(s PeerState) string {
	return s.style().Render(s.String())
}

func Muted(s string) string { return mutedStyle.Render(s) }

func YesNo(v bool) string {
	if v {
		return warnStyle.Render("yes")
	}
	return mutedStyle.Render("no")
}

// Status lines: a coloured marker, a space and the message. No newline.

func InfoMsg(format string, a ...any) string    { return marked(accentStyle, "●", format, a...) }
func SuccessMsg(format string, a ...any) string { return marked(okStyle, "✓", format, a...) }
func WarnMsg(format string, a ...any) string    { return marked(warnStyle, "!", format, a...) }
func ErrorMsg(format string, a ...any) string   { return marked(errorStyle, "✗", format, a...) }

func marked(style lipgloss.Style, marker, format string, a ...any) string {
	return style.Render(marker) + " " + fmt.Sprintf(format, a...)
}
