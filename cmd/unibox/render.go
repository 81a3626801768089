package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/memohai/unibox/internal/reconcile"
	"github.com/memohai/unibox/internal/store"
)

var (
	timeStyle     = lipgloss.NewStyle().Faint(true)
	inboundStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	outboundStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// renderItem formats one timeline row as a single line.
func renderItem(item reconcile.Item) string {
	arrow := "<"
	style := inboundStyle
	if item.Direction == store.DirectionOutbound {
		arrow = ">"
		style = outboundStyle
	}

	text := strings.Join(strings.Fields(item.Text), " ")
	switch {
	case item.Deleted:
		text = "(deleted)"
	case item.Edited:
		text += " (edited)"
	}
	if item.Attachments > 0 {
		text += fmt.Sprintf(" [%d attachment(s)]", item.Attachments)
	}

	status := string(item.Status)
	switch item.State {
	case reconcile.StatePending:
		style = pendingStyle
	case reconcile.StateFailed:
		style = failedStyle
		if item.Error != "" {
			status += ": " + item.Error
		}
	}

	return fmt.Sprintf("%s %s %s %s",
		timeStyle.Render(item.SentAt.Local().Format(time.TimeOnly)),
		style.Render(arrow),
		style.Render(text),
		timeStyle.Render("["+status+"]"),
	)
}

func renderNotice(format string, args ...any) string {
	return noticeStyle.Render("-- " + fmt.Sprintf(format, args...))
}
