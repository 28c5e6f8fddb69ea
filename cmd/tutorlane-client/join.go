package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorlane/tutorlane/internal/classroom"
	"github.com/tutorlane/tutorlane/internal/session"
	relay "github.com/tutorlane/tutorlane/internal/signal"
)

var (
	flagServer   string
	flagEmail    string
	flagPassword string
	flagToken    string
	flagRole     string
	flagVerbose  bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a classroom session",
	Long: `Join a classroom session as host or guest.

Examples:
  tutorlane-client join k3j2h1g0f9e8d7c6 --email tutor@example.com --password secret --role host
  tutorlane-client join k3j2h1g0f9e8d7c6 --token $TOKEN

Once joined, lines typed on stdin are sent as chat messages. Commands:
  /mic      toggle microphone
  /cam      toggle camera
  /hand     raise hand
  /unhand   lower hand
  /share    start screen share
  /unshare  stop screen share
  /react E  publish reaction E for a few seconds
  /quit     leave the classroom`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", "http://localhost:8080", "relay server base URL")
	joinCmd.Flags().StringVar(&flagEmail, "email", "", "account email, used when no token is given")
	joinCmd.Flags().StringVar(&flagPassword, "password", "", "account password, used when no token is given")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "bearer token, skips the login call")
	joinCmd.Flags().StringVar(&flagRole, "role", "guest", "session role, host or guest")
	joinCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "log relay traffic details")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(roomID string) error {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := relay.NewClient(flagServer, flagToken)
	if flagToken == "" {
		if flagEmail == "" || flagPassword == "" {
			return fmt.Errorf("either --token or --email and --password are required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Login(ctx, flagEmail, flagPassword); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	iceServers, err := client.FetchICEServers(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch turn config: %w", err)
	}

	link, err := session.NewPionLink(session.ICEServersFromConfig(iceServers))
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	manager, err := session.NewManager(session.Config{
		RoomID:   roomID,
		Role:     classroom.ParseRole(flagRole),
		Signaler: client,
		Media:    session.SilentDevice{},
		Link:     link,
		Logger:   logger,
		OnChat: func(msg classroom.ChatMessage) {
			fmt.Printf("[chat] %s (%s): %s\n", msg.Name, msg.Role, msg.Text)
		},
		OnStateChange: func(state session.State, status string) {
			fmt.Printf("[session] %s: %s\n", state, status)
		},
		OnPresence: printPresenceChanges(),
	})
	if err != nil {
		return err
	}

	if err := manager.Start(context.Background()); err != nil {
		return err
	}
	fmt.Printf("joined room %s as %s, type a message or /quit to leave\n", roomID, classroom.ParseRole(flagRole))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		manager.Close()
	}()

	go runInput(manager)

	<-manager.Done()
	return nil
}

// printPresenceChanges prints the other participants' state, but only when
// it changes, so the poll loop stays quiet on screen.
func printPresenceChanges() func([]classroom.PresenceState) {
	var last string
	return func(states []classroom.PresenceState) {
		var b strings.Builder
		for _, s := range states {
			fmt.Fprintf(&b, "%s/%s mic=%t cam=%t hand=%t share=%t %s\n",
				s.Role, s.UserID, s.MicEnabled, s.CamEnabled, s.HandRaised, s.SharingScreen, s.Reaction)
		}
		current := b.String()
		if current == last {
			return
		}
		last = current
		if current != "" {
			fmt.Print("[presence]\n" + current)
		}
	}
}

func runInput(manager *session.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			manager.Close()
			return
		case line == "/mic":
			fmt.Printf("[mic] enabled=%t\n", manager.ToggleMic())
		case line == "/cam":
			fmt.Printf("[cam] enabled=%t\n", manager.ToggleCam())
		case line == "/hand":
			manager.SetHandRaised(true)
			fmt.Println("[hand] raised")
		case line == "/unhand":
			manager.SetHandRaised(false)
			fmt.Println("[hand] lowered")
		case line == "/share":
			if err := manager.StartScreenShare(context.Background()); err != nil {
				fmt.Println("[share] failed:", err)
			} else {
				fmt.Println("[share] started")
			}
		case line == "/unshare":
			manager.StopScreenShare()
			fmt.Println("[share] stopped")
		case strings.HasPrefix(line, "/react "):
			manager.React(strings.TrimSpace(strings.TrimPrefix(line, "/react ")))
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := manager.SendChat(ctx, line); err != nil {
				fmt.Println("[chat] failed:", err)
			}
			cancel()
		}
	}
}
