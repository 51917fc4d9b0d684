package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shahidanowar/Meshage/internal/engine"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/shahidanowar/Meshage/internal/transport"
	"github.com/shahidanowar/Meshage/internal/tui"
	"github.com/shahidanowar/Meshage/internal/uplink"
	"github.com/shahidanowar/Meshage/internal/utils"
	"github.com/shahidanowar/Meshage/internal/web"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var discordWebhook string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Join the mesh",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If the mesh port moved but the web port did not, shift it by the same offset.
		if cfg.Port != 9000 && cfg.WebPort == 8080 {
			cfg.WebPort = 8080 + cfg.Port - 9000
			fmt.Printf("Auto-adjusting Web Port to %d (to match mesh port offset)\n", cfg.WebPort)
		}
		if err := checkPort(cfg.Port); err != nil {
			return fmt.Errorf("mesh port %d is already in use", cfg.Port)
		}
		if cfg.WebPort != 0 {
			if err := checkPort(cfg.WebPort); err != nil {
				return fmt.Errorf("web port %d is already in use", cfg.WebPort)
			}
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.LoadOrCreateIdentity(cfg.Nick)
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		slog.Info("Starting Meshage", "port", cfg.Port, "nick", id.DisplayName, "id", id.ID)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		lan := transport.NewLAN(transport.LANConfig{Port: cfg.Port})
		defer lan.Close()
		eng := engine.New(engine.ConfigFrom(cfg), lan, st)
		if err := eng.Start(ctx, id); err != nil {
			return fmt.Errorf("failed to start mesh session: %w", err)
		}
		defer eng.Stop()

		var relay chan store.Message
		if discordWebhook != "" {
			slog.Info("Initializing Uplink Service", "webhook", "REDACTED")
			relay = make(chan store.Message, 100)
			uplink.NewService(discordWebhook).Start(ctx, relay)
		}
		var ui chan engine.Event
		if !cfg.Headless {
			ui = make(chan engine.Event, cfg.EventBuffer)
		}
		go fanOut(ctx, eng.Events(), ui, relay)

		if cfg.WebPort != 0 {
			webSrv := web.NewServer(eng, cfg.WebPort)
			go func() {
				if err := webSrv.Start(ctx); err != nil {
					slog.Error("Web server failed", "error", err)
					cancel()
				}
			}()

			url := fmt.Sprintf("http://%s:%d", utils.OutboundIP(), cfg.WebPort)
			if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
				fmt.Println("\nSCAN TO OPEN THE WEB UI:")
				fmt.Println(qr.ToString(false))
			}
			fmt.Println("URL:", url)
		}

		if cfg.Headless {
			slog.Info("Running in HEADLESS mode (No TUI)")
			<-ctx.Done()
			return nil
		}
		return tui.StartTUI(eng, ui)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().IntVarP(&cfg.WebPort, "web-port", "w", cfg.WebPort, "Web interface port; 0 disables it")
	startCmd.Flags().StringVarP(&cfg.Nick, "nick", "n", cfg.Nick, "Display name")
	startCmd.Flags().BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run without the terminal UI")
	startCmd.Flags().DurationVar(&cfg.RetryInterval, "retry-interval", cfg.RetryInterval, "Delay between connect attempts")
	startCmd.Flags().IntVar(&cfg.MaxConnectAttempts, "max-attempts", cfg.MaxConnectAttempts, "Connect attempts per discovery; 0 is unlimited")
	startCmd.Flags().DurationVar(&cfg.ForwardGuardTTL, "forward-guard", cfg.ForwardGuardTTL, "Stamp message ids and skip re-forwarding ids seen within this window; 0 forwards unconditionally")
	startCmd.Flags().StringVar(&discordWebhook, "discord-webhook", "", "Discord Webhook URL for Uplink Service")
}

// fanOut copies engine events to the UI and received messages to the relay.
// Slow consumers lose events rather than stall the session. With no UI,
// received messages are logged.
func fanOut(ctx context.Context, events <-chan engine.Event, ui chan<- engine.Event, relay chan<- store.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			select {
			case ui <- ev:
			default:
			}
			msg, ok := ev.(engine.MessageReceived)
			if !ok {
				continue
			}
			if ui == nil {
				slog.Info("Message received", "from", msg.Message.SenderName, "kind", msg.Message.Kind, "content", msg.Message.Content)
			}
			select {
			case relay <- msg.Message:
			default:
			}
		}
	}
}
