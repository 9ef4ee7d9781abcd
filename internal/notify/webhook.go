package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event           string  `json:"event"`
	State           string  `json:"state,omitempty"`
	FrequencyHz     uint64  `json:"frequency_hz,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	Message         string  `json:"message,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

// SendCaptureWebhook notifies the configured webhook of a saved capture.
func SendCaptureWebhook(webhookURL string, frequencyHz uint64, filename string, durationSecs float64, sizeBytes int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:           "capture_saved",
		FrequencyHz:     frequencyHz,
		Filename:        filename,
		DurationSeconds: durationSecs,
		SizeBytes:       sizeBytes,
		Timestamp:       timestampUTC(),
	})
}

// SendModeWebhook notifies the configured webhook of a mode transition.
func SendModeWebhook(webhookURL string, state types.AutoModeState) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "mode_change",
		State:     string(state),
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
