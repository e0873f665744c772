package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	dormie "github.com/dormiehq/dormie-go"
)

var (
	chatWith    string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: "Connects to the portal and opens an interactive chat prompt.\n" +
		"Type a message and press enter to send it. Commands:\n" +
		"  /list      list conversations\n" +
		"  /open <n>  open conversation n from the list\n" +
		"  /quit      leave and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := log.New(io.Discard, "", 0)
		if chatVerbose {
			logger = log.New(cmd.ErrOrStderr(), "dormie: ", log.LstdFlags)
		}

		sess, err := buildSession(cfg, logger)
		if err != nil {
			return err
		}
		defer sess.Close()

		selfID := sess.Identity.ID

		sess.Realtime.OnNewMessage(func(p dormie.NewMessagePayload) {
			if p.Message.Sender.ID == selfID {
				return
			}
			fmt.Printf("\r%s %s: %s\n> ",
				p.Message.CreatedAt.Local().Format("15:04"),
				p.Message.Sender.Name, p.Message.Content)
		})
		sess.Realtime.OnTyping(func(p dormie.TypingPayload) {
			if p.IsTyping && p.ConversationID == sess.Sync.CurrentID() {
				fmt.Print("\r(peer is typing...)\n> ")
			}
		})
		sess.Realtime.OnDisconnected(func(reason string) {
			fmt.Printf("\r[connection lost: %s]\n> ", reason)
		})
		sess.Realtime.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("\r[reconnecting, attempt %d in %s]\n> ", attempt, delay)
		})
		sess.Realtime.OnConnected(func() {
			fmt.Print("\r[connected]\n> ")
		})

		ctx := context.Background()
		if err := sess.Start(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		if err := sess.Sync.LoadConversations(ctx); err != nil {
			return fmt.Errorf("cannot load conversations: %w", err)
		}

		if chatWith != "" {
			conv, err := sess.Sync.StartConversation(ctx, chatWith)
			if err != nil {
				return fmt.Errorf("cannot start conversation: %w", err)
			}
			if err := sess.Sync.SelectConversation(ctx, conv.ID); err != nil {
				return err
			}
			fmt.Printf("chatting with %s\n", peerLabel(selfID, conv))
		} else {
			printConversations(sess)
			fmt.Println("use /open <n> to pick a conversation")
		}

		return chatLoop(ctx, sess)
	},
}

func printConversations(sess *dormie.Session) {
	convs := sess.Sync.Conversations()
	if len(convs) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	for i, conv := range convs {
		marker := " "
		if conv.ID == sess.Sync.CurrentID() {
			marker = "*"
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", conv.UnreadCount)
		}
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
			if len(last) > 40 {
				last = last[:40] + "..."
			}
		}
		fmt.Printf("%s %2d. %s%s  %s\n", marker, i+1, peerLabel(sess.Identity.ID, conv), unread, last)
	}
}

func printHistory(sess *dormie.Session) {
	for _, msg := range sess.Sync.Messages() {
		name := msg.Sender.Name
		if msg.Sender.ID == sess.Identity.ID {
			name = "me"
		}
		fmt.Printf("%s %s: %s\n", msg.CreatedAt.Local().Format("15:04"), name, msg.Content)
	}
}

func chatLoop(ctx context.Context, sess *dormie.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "/list":
			printConversations(sess)
		case strings.HasPrefix(line, "/open "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			convs := sess.Sync.Conversations()
			if err != nil || n < 1 || n > len(convs) {
				fmt.Println("usage: /open <n> with n from /list")
				break
			}
			conv := convs[n-1]
			if err := sess.Sync.SelectConversation(ctx, conv.ID); err != nil {
				fmt.Printf("cannot open conversation: %v\n", err)
				break
			}
			fmt.Printf("opened conversation with %s\n", peerLabel(sess.Identity.ID, conv))
			printHistory(sess)
		case line == "":
			sess.Typing.Input("")
		default:
			sess.Typing.Input(line)
			if _, err := sess.Sync.SendMessage(ctx, line); err != nil {
				fmt.Printf("send failed: %v (draft kept)\n", err)
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func init() {
	chatCmd.Flags().StringVar(&chatWith, "with", "", "user id to start a conversation with")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "log connection details to stderr")
	rootCmd.AddCommand(chatCmd)
}
