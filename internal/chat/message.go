package chat

import (
	"encoding/json"
	"slices"
	"time"
)

// Type is the discriminator carried by every frame in its "type" field.
type Type string

const (
	TypeChat     Type = "chat"
	TypeSystem   Type = "system"
	TypeUserList Type = "userlist"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeChat, TypeSystem, TypeUserList:
		return true
	}
	return false
}

// Message is an outbound frame. The set of implementations is closed to
// Chat, System and UserList.
type Message interface {
	Type() Type
	json.Marshaler
	sealed()
}

// Chat is a relayed user message. Sender is always set by the server.
type Chat struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewChat(sender, content string, at time.Time) Chat {
	return Chat{Sender: sender, Content: content, Timestamp: at.UnixMilli()}
}

func (Chat) Type() Type { return TypeChat }
func (Chat) sealed()    {}

func (m Chat) MarshalJSON() ([]byte, error) {
	type alias Chat
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeChat, alias(m)})
}

// System is a server notice (joins, leaves, welcome, shutdown, announcements).
type System struct {
	Content string `json:"content"`
}

func NewSystem(content string) System {
	return System{Content: content}
}

func (System) Type() Type { return TypeSystem }
func (System) sealed()    {}

func (m System) MarshalJSON() ([]byte, error) {
	type alias System
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeSystem, alias(m)})
}

// UserList carries the online set in join order.
type UserList struct {
	Users []string `json:"users"`
}

// NewUserList copies users so the message stays immutable.
func NewUserList(users []string) UserList {
	cp := slices.Clone(users)
	if cp == nil {
		cp = []string{}
	}
	return UserList{Users: cp}
}

func (UserList) Type() Type { return TypeUserList }
func (UserList) sealed()    {}

func (m UserList) MarshalJSON() ([]byte, error) {
	users := m.Users
	if users == nil {
		users = []string{}
	}
	return json.Marshal(struct {
		Type  Type     `json:"type"`
		Users []string `json:"users"`
	}{TypeUserList, users})
}

func WelcomeNotice(name string) System { return NewSystem("Welcome to the chat, " + name + "!") }
func JoinedNotice(name string) System  { return NewSystem(name + " joined the chat") }
func LeftNotice(name string) System    { return NewSystem(name + " left the chat") }

const ShutdownNotice = "Server is shutting down"
