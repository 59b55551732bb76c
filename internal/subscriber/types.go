package subscriber

// Announcement is one message received on the announcements pub/sub channel.
type Announcement struct {
	Content string `json:"content" validate:"required,max=500"`
}
