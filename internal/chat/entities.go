package chat

import "time"

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Message struct {
	ID         string    `json:"id"`
	ChatroomID string    `json:"chatroomId"`
	Sender     UserRef   `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	// Optimistic is set for messages inserted locally on send, before the server has seen them
	Optimistic bool `json:"optimistic,omitempty"`
}

type Chatroom struct {
	ID           string    `json:"id"`
	Participants []UserRef `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
}

// outgoingMessage is the payload of the "sendMessage" event
type outgoingMessage struct {
	ChatroomID string `json:"chatroomId"`
	Sender     string `json:"sender"`
	Text       string `json:"text"`
}
