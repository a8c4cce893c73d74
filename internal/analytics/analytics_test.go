package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brightgems/openai-api-server/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	events := []storage.Event{
		{Timestamp: day.Add(2 * time.Hour), ConversationID: "c1", User: "alice", Model: "gpt-3.5-turbo", UserMessage: "hi", AssistantResponse: "hello"},
		{Timestamp: day.Add(3 * time.Hour), ConversationID: "c1", User: "alice", Model: "gpt-3.5-turbo", UserMessage: "more", AssistantResponse: "sure", Streamed: true, Trimmed: 2},
		{Timestamp: day.Add(4 * time.Hour), ConversationID: "c2", User: "bob", Model: "gpt-4", UserMessage: "q", AssistantResponse: "a"},
		// next day
		{Timestamp: day.AddDate(0, 0, 1), ConversationID: "c3", User: "carol", Model: "gpt-4", UserMessage: "late", AssistantResponse: "x"},
		// no user message
		{Timestamp: day.Add(5 * time.Hour), ConversationID: "c1", AssistantResponse: "[system]"},
	}

	stats := AnalyzeDailyLogs(events, day.Add(13*time.Hour))

	assert.Equal(t, "2024-01-15", stats.Date)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.Equal(t, 2, stats.UniqueConversations)
	assert.Equal(t, 1, stats.StreamedMessages)
	assert.Equal(t, 2, stats.TrimmedEntries)
	assert.Equal(t, map[string]int{"gpt-3.5-turbo": 2, "gpt-4": 1}, stats.MessagesByModel)
	assert.Equal(t, ConversationStats{ConversationID: "c1", Messages: 2, Trimmed: 2}, stats.Conversations["c1"])
}

func TestAnalyzeDailyLogsEmpty(t *testing.T) {
	stats := AnalyzeDailyLogs(nil, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.Zero(t, stats.TotalMessages)
	assert.Empty(t, stats.Conversations)
	assert.Contains(t, stats.GenerateReportSummary(), "Messages: 0")
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:                "2024-01-15",
		TotalMessages:       3,
		UniqueUsers:         2,
		UniqueConversations: 2,
		MessagesByModel:     map[string]int{"gpt-4": 1, "gpt-3.5-turbo": 2},
		Conversations: map[string]ConversationStats{
			"c2": {ConversationID: "c2", Messages: 1},
			"c1": {ConversationID: "c1", Messages: 2, Trimmed: 1},
		},
	}

	summary := stats.GenerateReportSummary()

	assert.Contains(t, summary, "Chat usage for 2024-01-15")
	assert.Contains(t, summary, "- c1: 2 messages, 1 trimmed")
	assert.Less(t, strings.Index(summary, "gpt-3.5-turbo"), strings.Index(summary, "gpt-4:"))
	assert.Less(t, strings.Index(summary, "- c1:"), strings.Index(summary, "- c2:"))
	assert.Equal(t, summary, stats.GenerateReportSummary())
}

