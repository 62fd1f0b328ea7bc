package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
	"github.com/lorrc/marketplace-realtime/internal/client/chat"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Direct messages with other users",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			return a.requireSession()
		},
	}
	cmd.AddCommand(
		newChatListCmd(a),
		newChatOpenCmd(a),
		newChatTailCmd(a),
		newChatSendCmd(a),
		newChatUploadCmd(a),
	)
	return cmd
}

func (a *app) chatManager() *chat.Manager {
	return chat.NewManager(a.client, chat.Options{
		URL:    a.cfg.WebSocketURL(),
		UserID: a.userID,
		Header: a.client.AuthHeader,
		Jar:    a.client.Jar(),
		Logger: a.logger,
	})
}

func newChatListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chats, err := a.client.ListChats(a.ctx(cmd))
			if err != nil {
				return explain("list chats", err)
			}
			for _, c := range chats {
				last := ""
				if c.LastMessage != nil {
					last = messageBody(*c.LastMessage)
				}
				fmt.Fprintf(a.out, "%s  %-20s  unread=%d  %s\n", c.ChatID, c.Counterpart.Name, c.UnreadCount, last)
			}
			return nil
		},
	}
}

func newChatOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <recipient-id>",
		Short: "Create or fetch the chat with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, created, err := a.client.OpenChat(a.ctx(cmd), args[0])
			if err != nil {
				return explain("open chat", err)
			}
			state := "existing"
			if created {
				state = "new"
			}
			fmt.Fprintf(a.out, "%s (%s chat with %s)\n", c.ChatID, state, c.Counterpart.Name)
			return nil
		},
	}
}

func newChatTailCmd(a *app) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "tail <chat-id>",
		Short: "Print a chat's history and follow new messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.ctx(cmd)
			m := a.chatManager()
			if err := m.Connect(ctx); err != nil {
				return explain("connect", err)
			}
			defer m.Disconnect()

			t, err := m.Join(ctx, args[0])
			if err != nil {
				return explain("join chat", err)
			}
			msgs := t.Messages()
			if history >= 0 && len(msgs) > history {
				msgs = msgs[len(msgs)-history:]
			}
			seen := make(map[string]bool, len(msgs))
			for _, msg := range t.Messages() {
				seen[msg.MessageID] = true
			}
			for _, msg := range msgs {
				a.printMessage(msg)
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-t.Updates():
					if seen[msg.MessageID] {
						continue
					}
					seen[msg.MessageID] = true
					a.printMessage(msg)
				case reason := <-m.Errors():
					fmt.Fprintf(a.errOut, "server: %s\n", reason)
				}
			}
		},
	}
	cmd.Flags().IntVar(&history, "history", 20, "Messages of history to print; -1 for all")
	return cmd
}

func newChatSendCmd(a *app) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "Send a text message and wait for it to be delivered",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.ctx(cmd)
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return chat.ErrEmptyMessage
			}

			m := a.chatManager()
			if err := m.Connect(ctx); err != nil {
				return explain("connect", err)
			}
			defer m.Disconnect()

			t, err := m.Join(ctx, args[0])
			if err != nil {
				return explain("join chat", err)
			}
			known := make(map[string]bool)
			for _, msg := range t.Messages() {
				known[msg.MessageID] = true
			}
			if err := t.Send(text); err != nil {
				return fmt.Errorf("send: %w", err)
			}

			timer := time.NewTimer(wait)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					return errors.New("send: no delivery confirmation from the server")
				case reason := <-m.Errors():
					return fmt.Errorf("send: %s", reason)
				case msg := <-t.Updates():
					if known[msg.MessageID] || msg.Text != text || (a.userID != "" && msg.SenderID != a.userID) {
						continue
					}
					fmt.Fprintf(a.out, "Sent %s\n", msg.MessageID)
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the server echo")
	return cmd
}

func newChatUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <chat-id> <image-file>",
		Short: "Send an image (png, jpeg or webp, up to 5 MB)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			msg, err := a.client.UploadChatImage(a.ctx(cmd), args[0], filepath.Base(args[1]), f)
			if err != nil {
				return explain("upload", err)
			}
			fmt.Fprintf(a.out, "Uploaded %s: %s\n", msg.MessageID, msg.ImageURL)
			return nil
		},
	}
}

func (a *app) printMessage(msg api.ChatMessage) {
	who := msg.SenderID
	if who == a.userID {
		who = "me"
	}
	printMessageTo(a.out, who, msg)
}

func printMessageTo(w io.Writer, who string, msg api.ChatMessage) {
	fmt.Fprintf(w, "[%s] %s: %s\n", shortTime(msg.CreatedAt), who, messageBody(msg))
}

func messageBody(msg api.ChatMessage) string {
	if msg.ImageURL != "" {
		if msg.Text != "" {
			return msg.Text + " [image " + msg.ImageURL + "]"
		}
		return "[image " + msg.ImageURL + "]"
	}
	return msg.Text
}

func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("01-02 15:04")
}
