// Package uplink relays selected mesh messages to a Discord webhook, for a
// node that happens to have internet access.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shahidanowar/Meshage/internal/store"
)

// Prefix marks a message for relay.
const Prefix = "/uplink"

type Service struct {
	WebhookURL string
	client     *http.Client
	log        *slog.Logger
}

func NewService(url string) *Service {
	return &Service{
		WebhookURL: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: slog.Default().With("component", "uplink"),
	}
}

// Start relays messages from msgChan until it closes or ctx is done.
func (s *Service) Start(ctx context.Context, msgChan <-chan store.Message) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					return
				}
				if _, err := s.Relay(ctx, msg); err != nil {
					s.log.Error("Failed to relay message", "id", msg.ID, "error", err)
				}
			}
		}
	}()
}

// Relay posts msg to the webhook if it carries the uplink prefix. It reports
// whether the message was relayed.
func (s *Service) Relay(ctx context.Context, msg store.Message) (bool, error) {
	if !strings.HasPrefix(msg.Content, Prefix) {
		return false, nil
	}
	content := strings.TrimSpace(strings.TrimPrefix(msg.Content, Prefix))
	if content == "" {
		return false, nil
	}

	user := msg.SenderName
	if user == "" {
		user = "unknown"
	}
	kind := "broadcast"
	if msg.Kind == store.KindDirect {
		kind = "direct"
	}
	discordMsg := fmt.Sprintf("**[MESH RELAY]**\n**User:** %s\n**Kind:** %s\n**Message:** %s", user, kind, content)

	jsonPayload, err := json.Marshal(map[string]string{"content": discordMsg})
	if err != nil {
		return false, fmt.Errorf("failed to marshal uplink payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send uplink request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("uplink returned status %s", resp.Status)
	}
	s.log.Info("Relayed message to webhook", "id", msg.ID)
	return true, nil
}
