package main

import (
	"fmt"
	"log"

	dormie "github.com/dormiehq/dormie-go"
)

// buildSession assembles an authenticated Session from the saved config.
func buildSession(cfg *Config, logger *log.Logger) (*dormie.Session, error) {
	if cfg.Default.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run: dormie config set default.base_url <url>")
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		return nil, fmt.Errorf("not logged in; run: dormie login --email <email> --password <password>")
	}

	identity := dormie.Identity{
		ID:   cfg.Auth.UserID,
		Name: cfg.Auth.DisplayName,
		Role: dormie.Role(cfg.Auth.Role),
	}
	api := dormie.NewClient(cfg.Default.BaseURL, cfg.Auth.Token)
	rt := dormie.NewRealtimeClient(&dormie.RealtimeConfig{
		BaseURL: cfg.Default.BaseURL,
		Token:   cfg.Auth.Token,
		Logger:  logger,
	})
	return dormie.NewSession(identity, api, rt, logger), nil
}

// peerLabel renders the other participant of a conversation, falling back
// to the conversation id when the peer cannot be determined.
func peerLabel(selfID string, conv dormie.Conversation) string {
	peer, ok := conv.Peer(selfID)
	if !ok {
		return conv.ID
	}
	return fmt.Sprintf("%s (%s)", peer.Name, peer.Role)
}
