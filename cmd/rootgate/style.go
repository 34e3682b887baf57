// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rootgate/internal/ledger"
)

var (
	brandPrimary = lipgloss.Color("#7C3AED") // Purple
	brandAccent  = lipgloss.Color("#10B981") // Emerald
	brandWarning = lipgloss.Color("#F59E0B") // Amber
	brandError   = lipgloss.Color("#EF4444") // Red
	brandSevere  = lipgloss.Color("#F97316") // Orange
	textMuted    = lipgloss.Color("#6B7280") // Gray

	titleStyle   = lipgloss.NewStyle().Foreground(brandPrimary).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(brandAccent).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(brandWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(brandError).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(textMuted)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// statusStyle colours a credit status.
func statusStyle(s ledger.Status) lipgloss.Style {
	switch s {
	case ledger.StatusOK:
		return successStyle
	case ledger.StatusWarning:
		return warningStyle
	case ledger.StatusCritical:
		return lipgloss.NewStyle().Foreground(brandSevere).Bold(true)
	default:
		return errorStyle
	}
}
