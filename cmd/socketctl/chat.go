package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kleeedolinux/socketlink/socket"
	"github.com/kleeedolinux/socketlink/socket/session"
)

var (
	chatRoom string
	chatUser string
	chatURL  string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "room to join (default client.room or \"general\")")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "display name (default client.user_name)")
	chatCmd.Flags().StringVar(&chatURL, "url", "", "relay URL (default client.url or SOCKET_URL)")
}

const chatHelp = "Commands: /status, /users, /away, /back, /leave, /join <room>, /reconnect, /quit"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room and chat from the terminal",
	Long:  "Connect to a relay, join a room and send every line read from stdin.\n" + chatHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		sc, err := clientConfig(cfg)
		if err != nil {
			return err
		}
		if chatURL != "" {
			sc.URL = chatURL
		}

		user := socket.User{
			ID:     valueOrDefault(cfg.Client.UserID, uuid.NewString()),
			Name:   valueOrDefault(chatUser, valueOrDefault(cfg.Client.UserName, "anonymous")),
			Status: "online",
		}
		room := valueOrDefault(chatRoom, valueOrDefault(cfg.Client.Room, "general"))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService(sc)
		defer svc.Destroy()

		sess := session.New(svc)
		defer sess.Close()
		sess.SetCurrentUser(user)

		printEvents(svc)

		if err := sess.Connect(ctx); err != nil {
			return fmt.Errorf("cannot connect to %s: %w", sc.URL, err)
		}
		if err := sess.JoinRoom(ctx, room); err != nil {
			return fmt.Errorf("cannot join room %q: %w", room, err)
		}
		fmt.Printf("Joined %s as %s. %s\n", room, user.Name, chatHelp)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := runChatLine(ctx, svc, sess, strings.TrimSpace(line)); quit {
					return nil
				}
			}
		}
	},
}

func runChatLine(ctx context.Context, svc *socket.Service, sess *session.Session, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/status":
		printStatus(svc.Status())
	case line == "/users":
		for _, u := range sess.Users() {
			fmt.Printf("  %s (%s)\n", u.Name, valueOrDefault(u.Status, "online"))
		}
	case line == "/away":
		sess.UpdateStatus("away")
	case line == "/back":
		sess.UpdateStatus("online")
	case line == "/leave":
		if err := sess.LeaveRoom(ctx, ""); err != nil {
			fmt.Fprintf(os.Stderr, "leave failed: %v\n", err)
		}
	case strings.HasPrefix(line, "/join "):
		room := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
		if err := sess.JoinRoom(ctx, room); err != nil {
			fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
		}
	case line == "/reconnect":
		room := sess.CurrentRoom()
		if err := svc.Reconnect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "reconnect failed: %v\n", err)
			return false
		}
		if room != "" {
			if err := sess.JoinRoom(ctx, room); err != nil {
				fmt.Fprintf(os.Stderr, "rejoin failed: %v\n", err)
			}
		}
	case strings.HasPrefix(line, "/"):
		fmt.Println(chatHelp)
	default:
		if !svc.IsConnected() {
			fmt.Fprintln(os.Stderr, "not connected, message dropped")
		}
		sess.SendMessage(line)
	}
	return false
}

// printEvents echoes room activity to stdout.
func printEvents(svc *socket.Service) {
	svc.On(socket.EventMessage, func(args ...any) {
		var msg socket.ChatMessage
		if decodeFirst(args, &msg) == nil {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format(time.Kitchen), msg.User.Name, msg.Text)
		}
	})
	svc.On(socket.EventUserJoined, func(args ...any) {
		var ev socket.RoomUser
		if decodeFirst(args, &ev) == nil {
			fmt.Printf("* %s joined %s\n", ev.User.Name, ev.Room)
		}
	})
	svc.On(socket.EventUserLeft, func(args ...any) {
		var ev socket.RoomUser
		if decodeFirst(args, &ev) == nil {
			fmt.Printf("* %s left %s\n", ev.User.Name, ev.Room)
		}
	})
	svc.On(socket.EventError, func(args ...any) {
		var ev socket.ErrorPayload
		if decodeFirst(args, &ev) == nil {
			fmt.Fprintf(os.Stderr, "! %s\n", ev.Message)
		}
	})
	svc.On(socket.EventDisconnect, func(args ...any) {
		fmt.Fprintf(os.Stderr, "! disconnected: %v\n", args)
	})
}

func decodeFirst(args []any, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("no payload")
	}
	raw, ok := args[0].(json.RawMessage)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", args[0])
	}
	return json.Unmarshal(raw, v)
}
