// Package notify delivers capture and mode-change notifications over
// the configured channels (webhook, Microsoft Graph email, log file).
package notify

import (
	"fmt"
	"sync"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// Notifier fans events out to all configured notification channels.
// Delivery runs on background goroutines and never blocks the caller.
type Notifier struct {
	cfg *config.Config

	mu          sync.Mutex
	graphClient *GraphClient
}

// NewNotifier returns a Notifier bound to the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// CaptureSaved notifies all configured channels of a saved capture.
func (n *Notifier) CaptureSaved(frequencyHz uint64, filename string, durationSecs float64, sizeBytes int64) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(
			func() error {
				return SendCaptureWebhook(cfg.WebhookURL, frequencyHz, filename, durationSecs, sizeBytes)
			},
			"Capture webhook",
		)
	}
	if cfg.HasGraph() {
		go util.LogNotifyResult(
			func() error {
				subject, body := captureEmail(frequencyHz, filename, durationSecs, sizeBytes)
				return n.sendEmail(cfg.Graph(), subject, body)
			},
			"Capture email",
		)
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(
			func() error {
				return LogCaptureSaved(cfg.LogPath, frequencyHz, filename, durationSecs, sizeBytes)
			},
			"Capture log",
		)
	}
}

// ModeChanged notifies all configured channels of a mode transition.
func (n *Notifier) ModeChanged(state types.AutoModeState) {
	cfg := n.cfg.Snapshot()

	if cfg.HasWebhook() {
		go util.LogNotifyResult(
			func() error { return SendModeWebhook(cfg.WebhookURL, state) },
			"Mode webhook",
		)
	}
	if cfg.HasGraph() {
		go util.LogNotifyResult(
			func() error {
				subject, body := modeEmail(state)
				return n.sendEmail(cfg.Graph(), subject, body)
			},
			"Mode email",
		)
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(
			func() error { return LogModeChange(cfg.LogPath, state) },
			"Mode log",
		)
	}
}

// sendEmail handles the common email sending infrastructure.
func (n *Notifier) sendEmail(graphCfg GraphConfig, subject, body string) error {
	if !IsConfigured(&graphCfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(&graphCfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(graphCfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
