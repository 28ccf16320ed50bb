package storage

import "strings"

// HistoryKey is the key of a user's notification history.
func HistoryKey(userID string) string {
	return "history:" + strings.TrimSpace(userID)
}

// SeenKey is the key of a user's dedup set for one category.
func SeenKey(userID, category string) string {
	return "seen:" + strings.TrimSpace(userID) + ":" + strings.TrimSpace(category)
}
