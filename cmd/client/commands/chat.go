package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/client"
	"github.com/omochice/toy-private-chat/internal/session"
	"github.com/omochice/toy-private-chat/internal/transport/ws"
)

func chatCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Log in and chat with another user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := session.New(authed,
				ws.Dialer{URL: cfg.RelayURL, Timeout: cfg.DialTimeout},
				session.WithTyping(cfg.TypingDebounce, cfg.TypingTimeout),
				session.WithReconnectPolicy(session.Backoff{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 5}),
				session.WithManagerOptions(client.WithSendQueueSize(cfg.SendQueueSize)),
			)
			defer s.Close()

			loginCtx, cancel := context.WithTimeout(ctx, requestTimeout()+cfg.DialTimeout)
			err := s.Login(loginCtx, username, password)
			cancel()
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s. Commands: /to <user>, /who, /quit\n", s.Snapshot().Identity)

			updates := s.Subscribe()
			done := make(chan struct{})
			go func() {
				defer close(done)
				render(updates)
			}()

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
					s.Logout()
					return nil
				case <-done:
					return nil
				case line, ok := <-lines:
					if !ok {
						s.Logout()
						return nil
					}
					if quit := handleLine(s, &to, line); quit {
						s.Logout()
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "initial conversation peer")
	return cmd
}

// handleLine runs one line of input and reports whether the user asked to quit.
func handleLine(s *session.Session, to *string, line string) bool {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return false
	case text == "/quit":
		return true
	case text == "/who":
		online := s.Snapshot().OnlineUsers
		names := make([]string, len(online))
		for i, u := range online {
			names[i] = string(u)
		}
		fmt.Printf("online: %s\n", strings.Join(names, ", "))
		return false
	case strings.HasPrefix(text, "/to "):
		*to = strings.TrimSpace(strings.TrimPrefix(text, "/to "))
		fmt.Printf("now chatting with %s\n", *to)
		return false
	}

	if *to == "" {
		fmt.Println("pick a peer first with /to <user>")
		return false
	}
	if _, err := s.SendMessage(*to, text); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
	return false
}

// render prints what changed between consecutive snapshots.
func render(updates <-chan session.Snapshot) {
	seen := make(map[string]chat.DeliveryState)
	typing := make(map[chat.Identity]bool)
	online := make(map[chat.Identity]bool)
	for snap := range updates {
		if snap.State == session.LoggedOut {
			fmt.Println("*** logged out ***")
			return
		}
		for _, conv := range snap.Messages {
			for _, m := range conv {
				prev, known := seen[m.ID]
				seen[m.ID] = m.DeliveryState
				switch {
				case m.Sender != snap.Identity && !known:
					fmt.Printf("[%s]: %s\n", m.Sender, m.Content)
				case m.Sender == snap.Identity && m.DeliveryState == chat.Read && prev != chat.Read:
					fmt.Printf("    (read by %s)\n", m.Recipient)
				}
			}
		}
		now := make(map[chat.Identity]bool, len(snap.TypingPeers))
		for _, p := range snap.TypingPeers {
			now[p] = true
			if !typing[p] {
				fmt.Printf("    %s is typing...\n", p)
			}
		}
		typing = now

		present := make(map[chat.Identity]bool, len(snap.OnlineUsers))
		for _, u := range snap.OnlineUsers {
			present[u] = true
			if !online[u] && u != snap.Identity {
				fmt.Printf("*** %s is online ***\n", u)
			}
		}
		for u := range online {
			if !present[u] && u != snap.Identity {
				fmt.Printf("*** %s went offline ***\n", u)
			}
		}
		online = present
	}
}
