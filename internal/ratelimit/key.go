package ratelimit

import "strings"

// KeyFor builds a limiter key for a chat user, falling back to the group.
func KeyFor(userID, groupID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return "u:" + userID
	}
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		return "g:" + groupID
	}
	return ""
}
