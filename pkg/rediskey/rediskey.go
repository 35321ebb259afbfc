package rediskey

import "fmt"

// Notification keys (global convention across services)
const (
	NotificationPrefix       = "notification"
	NotificationUnreadPrefix = "notification:unread"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUnreadCountKey returns "notification:unread:{userID}"
func BuildUnreadCountKey(userID string) string {
	return NamespaceKey(NotificationUnreadPrefix, userID)
}
