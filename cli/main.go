// Package main provides a terminal chat client for the chat WebSocket server.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/chatline/internal/protocol"
)

// errQuit ends the input loop.
var errQuit = errors.New("quit")

// session is what the client remembers between commands.
type session struct {
	mu         sync.Mutex
	receiverID string
	roomID     string
}

func (s *session) snapshot() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiverID, s.roomID
}

// learnRoom records the conversation of the first acknowledged send.
func (s *session) learnRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == "" {
		s.roomID = roomID
	}
}

// Client represents a WebSocket client.
type Client struct {
	conn  *websocket.Conn
	state *session
	done  chan struct{}
}

// NewClient dials the server with a bearer token.
func NewClient(addr, token string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:  conn,
		state: &session{},
		done:  make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// buildEvent turns a line of input into an outbound event. Plain text is
// sent to the current receiver; slash commands manage rooms and state.
func buildEvent(state *session, input string) (any, error) {
	receiverID, roomID := state.snapshot()
	fields := strings.Fields(input)
	arg := func() string {
		if len(fields) > 1 {
			return fields[1]
		}
		return ""
	}

	if !strings.HasPrefix(input, "/") {
		if receiverID == "" {
			return nil, errors.New("pick a receiver first with /to <user_id>")
		}
		return protocol.SendMessageMessage{
			BaseMessage:    protocol.NewBase(protocol.TypeSendMessage),
			ReceiverID:     receiverID,
			ConversationID: roomID,
			Body:           input,
			TempID:         "tmp_" + uuid.New().String()[:8],
		}, nil
	}

	switch fields[0] {
	case "/quit":
		return nil, errQuit
	case "/to":
		if arg() == "" {
			return nil, errors.New("usage: /to <user_id>")
		}
		state.mu.Lock()
		state.receiverID, state.roomID = arg(), ""
		state.mu.Unlock()
		return nil, nil
	case "/join":
		room := arg()
		if room == "" {
			room = roomID
		}
		if room == "" {
			return nil, errors.New("usage: /join <conversation_id>")
		}
		state.mu.Lock()
		state.roomID = room
		state.mu.Unlock()
		return protocol.JoinRoomMessage{BaseMessage: protocol.NewBase(protocol.TypeJoinRoom), RoomID: room}, nil
	case "/leave":
		if roomID == "" {
			return nil, errors.New("not in a room")
		}
		return protocol.LeaveRoomMessage{BaseMessage: protocol.NewBase(protocol.TypeLeaveRoom), RoomID: roomID}, nil
	case "/read":
		if roomID == "" {
			return nil, errors.New("no conversation yet")
		}
		return protocol.MarkReadMessage{BaseMessage: protocol.NewBase(protocol.TypeMarkRead), ConversationID: roomID}, nil
	case "/typing", "/stop":
		if receiverID == "" || roomID == "" {
			return nil, errors.New("join a conversation first")
		}
		return protocol.TypingMessage{
			BaseMessage: protocol.NewBase(protocol.TypeTyping),
			ReceiverID:  receiverID,
			RoomID:      roomID,
			IsTyping:    fields[0] == "/typing",
		}, nil
	case "/delete":
		if arg() == "" {
			return nil, errors.New("usage: /delete <message_id>")
		}
		return protocol.DeleteMessageMessage{BaseMessage: protocol.NewBase(protocol.TypeDeleteMessage), MessageID: arg()}, nil
	case "/ping":
		return protocol.HeartbeatMessage{BaseMessage: protocol.NewBase(protocol.TypeHeartbeat)}, nil
	default:
		return nil, fmt.Errorf("unknown command %s", fields[0])
	}
}

// ReadMessages reads and prints events from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					fmt.Printf("\nConnection closed: %d %s\n", closeErr.Code, closeErr.Text)
				} else {
					log.Printf("Read error: %v", err)
				}
				os.Exit(0)
			}
			c.print(data)
		}
	}
}

func (c *Client) print(data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch base.Type {
	case protocol.TypeMessageAck:
		var ack protocol.MessageAckMessage
		if json.Unmarshal(data, &ack) == nil && ack.Message != nil {
			c.state.learnRoom(ack.Message.ConversationID)
			fmt.Printf("\n[sent %s] %s\n", ack.Message.ID, ack.Message.Body)
			return
		}
	case protocol.TypeNewMessage:
		var msg protocol.NewMessageMessage
		if json.Unmarshal(data, &msg) == nil && msg.Message != nil {
			fmt.Printf("\n<%s> %s\n", msg.Message.SenderID, msg.Message.Body)
			return
		}
	case protocol.TypeNewMessageNotification:
		var note protocol.NewMessageNotification
		if json.Unmarshal(data, &note) == nil && note.Message != nil {
			fmt.Printf("\n(%d unread in %s) <%s> %s\n", note.UnreadCount, note.ConversationID, note.Message.SenderID, note.Message.Body)
			return
		}
	case protocol.TypePresenceChanged:
		var p protocol.PresenceChangedMessage
		if json.Unmarshal(data, &p) == nil {
			status := "offline"
			if p.Online {
				status = "online"
			}
			fmt.Printf("\n* %s is %s\n", p.UserID, status)
			return
		}
	case protocol.TypeTypingChanged:
		var t protocol.TypingChangedMessage
		if json.Unmarshal(data, &t) == nil {
			if t.IsTyping {
				fmt.Printf("\n* %s is typing...\n", t.UserID)
			}
			return
		}
	}

	// Pretty print anything else
	var prettyJSON map[string]interface{}
	_ = json.Unmarshal(data, &prettyJSON)
	formatted, _ := json.MarshalIndent(prettyJSON, "", "  ")
	fmt.Printf("\n[%s]\n%s\n", base.Type, string(formatted))
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "Access token (defaults to $CHAT_TOKEN)")
	to := flag.String("to", "", "User to chat with")
	flag.Parse()

	log.SetFlags(log.Ltime)
	if *token == "" {
		log.Fatal("An access token is required: -token or $CHAT_TOKEN")
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, *token)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	client.state.receiverID = *to

	fmt.Println("Connected.")
	fmt.Println("Type a message and press Enter to send it.")
	fmt.Println("Commands: /to <user>, /join [conversation], /leave, /read, /typing, /stop, /delete <message>, /ping, /quit")
	fmt.Println()

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Read user input
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			event, err := buildEvent(client.state, input)
			if errors.Is(err, errQuit) {
				fmt.Println("Bye!")
				return
			}
			if err != nil {
				fmt.Println(err)
				continue
			}
			if event == nil {
				continue
			}

			if err := client.conn.WriteJSON(event); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
