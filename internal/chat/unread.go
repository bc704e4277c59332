package chat

import "fair/internal/model"

// TotalUnread sums the unread counts of aggregated thread lists.
func TotalUnread(lists ...[]model.Thread) int {
	total := 0
	for _, threads := range lists {
		for _, t := range threads {
			total += t.UnreadCount
		}
	}
	return total
}
