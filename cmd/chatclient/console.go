package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chat-sync-client/internal/chat"
	"chat-sync-client/internal/popup"
	"chat-sync-client/internal/session"
)

const usage = `commands:
  login <userId>
  logout
  rooms
  open <chatroomId>
  send <chatroomId> <text>
  start <userId>
  quit`

const commandTimeout = 15 * time.Second

// console is a line oriented front end over the chat store
type console struct {
	in       io.Reader
	sessions *session.Provider
	store    *chat.Store

	mu  sync.Mutex
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer, sessions *session.Provider, store *chat.Store) *console {
	return &console{in: in, out: out, sessions: sessions, store: store}
}

// run executes commands until quit, end of input or ctx is done
func (c *console) run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := c.exec(ctx, scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (c *console) exec(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return true

	case "login":
		if len(args) != 1 {
			c.printf("usage: login <userId>\n")
			return false
		}
		c.sessions.Login(args[0])
		c.printf("logged in as %s\n", args[0])

	case "logout":
		c.sessions.Logout()
		c.printf("logged out\n")

	case "rooms":
		c.store.FetchChatrooms(ctx)
		c.printRooms(c.store.Chatrooms())

	case "open":
		if len(args) != 1 {
			c.printf("usage: open <chatroomId>\n")
			return false
		}
		c.store.GetMessages(ctx, args[0])
		c.printMessages(c.store.Messages(args[0]))

	case "send":
		if len(args) < 2 {
			c.printf("usage: send <chatroomId> <text>\n")
			return false
		}
		if _, err := c.store.SendMessage(args[0], strings.Join(args[1:], " ")); err != nil {
			c.printf("error: %v\n", err)
		}

	case "start":
		if len(args) != 1 {
			c.printf("usage: start <userId>\n")
			return false
		}
		id, err := c.store.StartChat(ctx, args[0])
		if err != nil {
			c.printf("error: %v\n", err)
			return false
		}
		c.printf("chatroom %s\n", id)

	default:
		c.printf("unknown command %q\n%s\n", cmd, usage)
	}

	return false
}

// showNotice prints a popup notice; nil means the notice was hidden
func (c *console) showNotice(n *popup.Notice) {
	if n == nil {
		return
	}
	c.printf("* %s: %s (%s)\n", n.SenderName, n.Text, n.ChatroomID)
}

func (c *console) printRooms(rooms []chat.Chatroom) {
	if len(rooms) == 0 {
		c.printf("no chatrooms\n")
		return
	}
	for _, r := range rooms {
		names := make([]string, 0, len(r.Participants))
		for _, p := range r.Participants {
			names = append(names, displayName(p))
		}
		line := r.ID + "\t" + strings.Join(names, ", ")
		if r.LastMessage != nil {
			line += "\t" + r.LastMessage.Text
		}
		c.printf("%s\n", line)
	}
}

func (c *console) printMessages(msgs []chat.Message) {
	for _, m := range msgs {
		mark := ""
		if m.Optimistic {
			mark = " (sending)"
		}
		c.printf("%s %s: %s%s\n", m.Timestamp.Local().Format("Jan 2 15:04"), displayName(m.Sender), m.Text, mark)
	}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func displayName(u chat.UserRef) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
