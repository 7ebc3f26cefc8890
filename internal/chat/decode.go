package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fastjson"
)

// ErrMalformedPayload is returned when a REST or realtime payload does not have the expected shape
var ErrMalformedPayload = errors.New("malformed payload")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// idOf returns the identifier stored under "id" or "_id". Numbers are accepted and kept in their JSON form.
func idOf(v *fastjson.Value) string {
	for _, key := range []string{"id", "_id"} {
		f := v.Get(key)
		if f == nil {
			continue
		}
		switch f.Type() {
		case fastjson.TypeString:
			if s := string(f.GetStringBytes()); s != "" {
				return s
			}
		case fastjson.TypeNumber:
			return f.String()
		}
	}
	return ""
}

func stringOf(v *fastjson.Value, keys ...string) string {
	for _, key := range keys {
		if f := v.Get(key); f != nil && f.Type() == fastjson.TypeString {
			if s := string(f.GetStringBytes()); s != "" {
				return s
			}
		}
	}
	return ""
}

// decodeUserRef accepts a bare id string or an object with id/_id and name/username
func decodeUserRef(v *fastjson.Value) (UserRef, error) {
	switch v.Type() {
	case fastjson.TypeString:
		return UserRef{ID: string(v.GetStringBytes())}, nil
	case fastjson.TypeObject:
		return UserRef{ID: idOf(v), Name: stringOf(v, "name", "username")}, nil
	default:
		return UserRef{}, malformed("user reference must be a string or an object, got %s", v.Type())
	}
}

// decodeTimestamp reads "timestamp", falling back to "createdAt". Strings must be RFC 3339,
// numbers are unix milliseconds. A missing timestamp yields the zero time.
func decodeTimestamp(v *fastjson.Value) (time.Time, error) {
	for _, key := range []string{"timestamp", "createdAt"} {
		f := v.Get(key)
		if f == nil || f.Type() == fastjson.TypeNull {
			continue
		}
		switch f.Type() {
		case fastjson.TypeString:
			raw := string(f.GetStringBytes())
			ts, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return time.Time{}, malformed("field %q: %v", key, err)
			}
			return ts, nil
		case fastjson.TypeNumber:
			ms, err := f.Int64()
			if err != nil {
				return time.Time{}, malformed("field %q: %v", key, err)
			}
			return time.UnixMilli(ms).UTC(), nil
		default:
			return time.Time{}, malformed("field %q must be a string or a number", key)
		}
	}
	return time.Time{}, nil
}

// decodeMessage reads a single message object. chatroomID fills a missing "chatroomId".
func decodeMessage(v *fastjson.Value, chatroomID string) (Message, error) {
	if v == nil || v.Type() != fastjson.TypeObject {
		return Message{}, malformed("message must be an object")
	}

	m := Message{
		ID:         idOf(v),
		ChatroomID: stringOf(v, "chatroomId", "chatroom"),
	}
	if m.ChatroomID == "" {
		if f := v.Get("chatroomId"); f != nil && f.Type() == fastjson.TypeNumber {
			m.ChatroomID = f.String()
		}
	}
	if m.ChatroomID == "" {
		m.ChatroomID = chatroomID
	}

	if text := v.Get("text"); text != nil {
		if text.Type() != fastjson.TypeString {
			return Message{}, malformed(`field "text" must be a string`)
		}
		m.Text = string(text.GetStringBytes())
	}

	if sender := v.Get("sender"); sender != nil && sender.Type() != fastjson.TypeNull {
		ref, err := decodeUserRef(sender)
		if err != nil {
			return Message{}, fmt.Errorf("field \"sender\": %w", err)
		}
		m.Sender = ref
	}
	if m.Sender.Name == "" {
		m.Sender.Name = stringOf(v, "senderName")
	}

	ts, err := decodeTimestamp(v)
	if err != nil {
		return Message{}, err
	}
	m.Timestamp = ts

	return m, nil
}

// decodeMessageList reads an array of messages. Elements that fail to decode are skipped
// and counted in dropped. A value that is not an array is an error.
func decodeMessageList(v *fastjson.Value, chatroomID string) (msgs []Message, dropped int, err error) {
	if v == nil || v.Type() != fastjson.TypeArray {
		return nil, 0, malformed("expected an array of messages")
	}

	items, _ := v.Array()
	msgs = make([]Message, 0, len(items))
	for _, item := range items {
		m, err := decodeMessage(item, chatroomID)
		if err != nil {
			dropped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, dropped, nil
}

func decodeChatroom(v *fastjson.Value) (Chatroom, error) {
	if v.Type() != fastjson.TypeObject {
		return Chatroom{}, malformed("chatroom must be an object")
	}

	c := Chatroom{ID: idOf(v)}
	if c.ID == "" {
		return Chatroom{}, malformed("chatroom has no id")
	}

	if p := v.Get("participants"); p != nil && p.Type() != fastjson.TypeNull {
		items, err := p.Array()
		if err != nil {
			return Chatroom{}, malformed(`field "participants" must be an array`)
		}
		c.Participants = make([]UserRef, 0, len(items))
		for _, item := range items {
			ref, err := decodeUserRef(item)
			if err != nil {
				return Chatroom{}, fmt.Errorf("field \"participants\": %w", err)
			}
			c.Participants = append(c.Participants, ref)
		}
	}

	if last := v.Get("lastMessage"); last != nil && last.Type() != fastjson.TypeNull {
		m, err := decodeMessage(last, c.ID)
		if err != nil {
			return Chatroom{}, fmt.Errorf("field \"lastMessage\": %w", err)
		}
		c.LastMessage = &m
	}

	return c, nil
}

// decodeChatroomList reads an array of chatrooms. Elements that fail to decode are skipped
// and counted in dropped.
func decodeChatroomList(v *fastjson.Value) (rooms []Chatroom, dropped int, err error) {
	if v == nil || v.Type() != fastjson.TypeArray {
		return nil, 0, malformed("expected an array of chatrooms")
	}

	items, _ := v.Array()
	rooms = make([]Chatroom, 0, len(items))
	for _, item := range items {
		c, err := decodeChatroom(item)
		if err != nil {
			dropped++
			continue
		}
		rooms = append(rooms, c)
	}
	return rooms, dropped, nil
}

// missedBatch is the payload of the "missedMessages" event
type missedBatch struct {
	ChatroomID string
	Messages   []Message
	Dropped    int
}

func decodeMissedBatch(v *fastjson.Value) (missedBatch, error) {
	if v == nil || v.Type() != fastjson.TypeObject {
		return missedBatch{}, malformed("missed messages payload must be an object")
	}

	b := missedBatch{ChatroomID: stringOf(v, "chatroomId")}
	if b.ChatroomID == "" {
		if f := v.Get("chatroomId"); f != nil && f.Type() == fastjson.TypeNumber {
			b.ChatroomID = f.String()
		}
	}
	if b.ChatroomID == "" {
		return missedBatch{}, malformed(`missing field "chatroomId"`)
	}

	msgs, dropped, err := decodeMessageList(v.Get("messages"), b.ChatroomID)
	if err != nil {
		return missedBatch{}, fmt.Errorf("field \"messages\": %w", err)
	}
	b.Messages = msgs
	b.Dropped = dropped

	return b, nil
}
