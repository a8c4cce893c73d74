package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brightgems/openai-api-server/internal/storage"
)

// DailyStats aggregates one calendar day of interaction events.
type DailyStats struct {
	Date                string                       `json:"date"`
	TotalMessages       int                          `json:"total_messages"`
	UniqueUsers         int                          `json:"unique_users"`
	UniqueConversations int                          `json:"unique_conversations"`
	StreamedMessages    int                          `json:"streamed_messages"`
	TrimmedEntries      int                          `json:"trimmed_entries"`
	MessagesByModel     map[string]int               `json:"messages_by_model"`
	Conversations       map[string]ConversationStats `json:"conversations"`
}

type ConversationStats struct {
	ConversationID string `json:"conversation_id"`
	Messages       int    `json:"messages"`
	Trimmed        int    `json:"trimmed"`
}

// AnalyzeDailyLogs counts the events that fall on targetDate in its location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:            startOfDay.Format("2006-01-02"),
		MessagesByModel: make(map[string]int),
		Conversations:   make(map[string]ConversationStats),
	}
	users := make(map[string]struct{})

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.UserMessage == "" {
			continue
		}
		stats.TotalMessages++
		if event.User != "" {
			users[event.User] = struct{}{}
		}
		if event.Streamed {
			stats.StreamedMessages++
		}
		stats.TrimmedEntries += event.Trimmed
		if event.Model != "" {
			stats.MessagesByModel[event.Model]++
		}

		cs := stats.Conversations[event.ConversationID]
		cs.ConversationID = event.ConversationID
		cs.Messages++
		cs.Trimmed += event.Trimmed
		stats.Conversations[event.ConversationID] = cs
	}

	stats.UniqueUsers = len(users)
	stats.UniqueConversations = len(stats.Conversations)
	return stats
}

// GenerateReportSummary renders a plain-text report. Map sections are
// sorted so the output is stable.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat usage for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- Unique users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- Conversations: %d\n", ds.UniqueConversations)
	fmt.Fprintf(&b, "- Streamed replies: %d\n", ds.StreamedMessages)
	fmt.Fprintf(&b, "- History entries trimmed: %d\n", ds.TrimmedEntries)

	if len(ds.MessagesByModel) > 0 {
		b.WriteString("\nBy model:\n")
		for _, model := range sortedKeys(ds.MessagesByModel) {
			fmt.Fprintf(&b, "- %s: %d\n", model, ds.MessagesByModel[model])
		}
	}

	if len(ds.Conversations) > 0 {
		convs := make([]ConversationStats, 0, len(ds.Conversations))
		for _, cs := range ds.Conversations {
			convs = append(convs, cs)
		}
		sort.Slice(convs, func(i, j int) bool {
			if convs[i].Messages != convs[j].Messages {
				return convs[i].Messages > convs[j].Messages
			}
			return convs[i].ConversationID < convs[j].ConversationID
		})
		b.WriteString("\nBusiest conversations:\n")
		for i, cs := range convs {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "- %s: %d messages", cs.ConversationID, cs.Messages)
			if cs.Trimmed > 0 {
				fmt.Fprintf(&b, ", %d trimmed", cs.Trimmed)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
