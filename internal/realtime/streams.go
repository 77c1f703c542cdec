package realtime

// Named realtime streams.
const (
	// StreamNotifications carries per-user notification events.
	StreamNotifications = "notifications"
	// StreamTrending carries ranker updates to every subscriber.
	StreamTrending = "trending"
)

// Events published on the streams above.
const (
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventTrendingUpdated     = "trending.updated"
)

// DefaultStreams lists the streams a client may subscribe to.
var DefaultStreams = []string{StreamNotifications, StreamTrending}

// Publisher delivers messages to connected clients. Implementations must not block.
type Publisher interface {
	BroadcastToUser(stream, userID string, message Message)
	BroadcastStream(stream string, message Message)
}
