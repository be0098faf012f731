package telegram

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mtzanidakis/swarmhub/internal/registry"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
)

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline, otherwise never inside a rune
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

var doubleStar = regexp.MustCompile(`\*\*(.+?)\*\*`)

// toTelegramMarkdown rewrites **bold** into Telegram's legacy *bold*.
func toTelegramMarkdown(s string) string {
	return doubleStar.ReplaceAllString(s, "*$1*")
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// escapeMarkdown makes user-supplied text render literally under Telegram's
// legacy Markdown.
func escapeMarkdown(v any) string {
	return markdownEscaper.Replace(fmt.Sprint(v))
}

// formatEvent renders an announcement, or "" for events not worth one.
func formatEvent(ev swarm.Event) string {
	d := ev.Data
	switch ev.Type {
	case swarm.EventSwarmCreated:
		text := "**New swarm recruiting:** " + escapeMarkdown(d["name"])
		if skills := joinList(d["required_skills"]); skills != "" {
			text += "\nSkills: " + escapeMarkdown(skills)
		}
		if pay, ok := d["payment_total"]; ok && fmt.Sprint(pay) != "0" {
			text += "\nPayment: " + escapeMarkdown(pay)
		}
		return text + "\nID: `" + ev.SwarmID + "`"
	case swarm.EventSwarmStarted:
		return "**Swarm started:** `" + ev.SwarmID + "`"
	case swarm.EventSwarmCompleted:
		return fmt.Sprintf("**Swarm completed:** `%s`\nMembers rewarded: %v", ev.SwarmID, d["members_rewarded"])
	case swarm.EventSwarmFailed:
		return fmt.Sprintf("**Swarm failed:** `%s` (%s)", ev.SwarmID, escapeMarkdown(d["reason"]))
	case swarm.EventAgentRegistered:
		return "**New agent:** " + escapeMarkdown(d["name"])
	default:
		return ""
	}
}

// joinList formats a skills list whether it came straight from the engine
// or through JSON.
func joinList(v any) string {
	switch l := v.(type) {
	case []string:
		return strings.Join(l, ", ")
	case []any:
		parts := make([]string, len(l))
		for i, s := range l {
			parts[i] = fmt.Sprint(s)
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func formatLeaderboard(board []registry.LeaderboardEntry) string {
	if len(board) == 0 {
		return "No agents yet."
	}
	var sb strings.Builder
	sb.WriteString("**Leaderboard**\n")
	for i, e := range board {
		fmt.Fprintf(&sb, "%d. %s - %d rep, %d done, %.1f%% success\n", i+1, escapeMarkdown(e.Name), e.Reputation, e.CompletedSwarms, e.SuccessRate)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSwarms(swarms []swarm.SwarmSummary) string {
	if len(swarms) == 0 {
		return "No swarms are recruiting right now."
	}
	var sb strings.Builder
	sb.WriteString("**Recruiting swarms**\n")
	for _, s := range swarms {
		fmt.Fprintf(&sb, "- %s by %s (%d members)", escapeMarkdown(s.Name), escapeMarkdown(s.CreatorName), s.MemberCount)
		if len(s.RequiredSkills) > 0 {
			fmt.Fprintf(&sb, " [%s]", escapeMarkdown(strings.Join(s.RequiredSkills, ", ")))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
