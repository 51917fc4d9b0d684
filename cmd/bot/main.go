// Command bot is a scripted mesh node for manual testing. It befriends
// anyone who asks and echoes what it is sent.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/shahidanowar/Meshage/internal/config"
	"github.com/shahidanowar/Meshage/internal/engine"
	"github.com/shahidanowar/Meshage/internal/logger"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/shahidanowar/Meshage/internal/transport"
	"github.com/spf13/cobra"
)

var (
	cfg      = config.Default()
	duration time.Duration
)

func main() {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run an echo bot on the mesh",
		RunE:  run,
	}
	cfg.Port = 9002
	cfg.Nick = "EchoBot"
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Mesh port")
	cmd.Flags().StringVarP(&cfg.Nick, "nick", "n", cfg.Nick, "Display name")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", os.TempDir(), "Directory holding the bot database")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Exit after this long; 0 runs until interrupted")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init("", "info"); err != nil {
		return err
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, fmt.Sprintf("bot_%d.db", cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to init DB: %w", err)
	}
	defer st.Close()
	id, err := st.LoadOrCreateIdentity(cfg.Nick)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	lan := transport.NewLAN(transport.LANConfig{Port: cfg.Port})
	defer lan.Close()
	eng := engine.New(engine.ConfigFrom(cfg), lan, st)

	fmt.Printf("Bot %s (%s) starting on port %d...\n", id.DisplayName, id.ID, cfg.Port)
	if err := eng.Start(ctx, id); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Bot shutting down...")
			return nil
		case ev := <-eng.Events():
			react(eng, ev)
		}
	}
}

func react(eng *engine.Engine, ev engine.Event) {
	switch ev := ev.(type) {
	case engine.PeerListChanged:
		fmt.Printf("Peers: %d\n", len(ev.Peers))
	case engine.FriendshipRequestReceived:
		fmt.Printf("Accepting friend request from %s\n", ev.Request.DisplayName)
		if err := eng.RespondToFriendshipRequest(ev.Request.PersistentID, true); err != nil {
			log.Printf("Failed to accept: %v", err)
		}
	case engine.MessageReceived:
		msg := ev.Message
		switch {
		case msg.Kind == store.KindDirect && msg.SenderID != "":
			if _, err := eng.SendDirect(msg.SenderID, "echo: "+msg.Content); err != nil {
				log.Printf("Failed to echo: %v", err)
			}
		case strings.TrimSpace(msg.Content) == "/ping":
			if _, err := eng.SendBroadcast("pong from " + cfg.Nick); err != nil {
				log.Printf("Failed to answer ping: %v", err)
			}
		}
	}
}
