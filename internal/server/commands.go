package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/notify"
	"github.com/rxtools/scanrec/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ModeController is the orchestrator surface exposed to clients.
type ModeController interface {
	EnterAutoMode()
	ExitAutoMode(reason string)
	State() types.AutoModeState
}

// CaptureStopper stops an in-progress capture on operator request.
type CaptureStopper interface {
	StopActiveCapture(reason string)
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	mode     ModeController
	recorder CaptureStopper
	notifier *notify.Notifier
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, mode ModeController, rec CaptureStopper, notifier *notify.Notifier) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		mode:     mode,
		recorder: rec,
		notifier: notifier,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "scan/update").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "scan":
		h.handleScan(action, cmd, send)
	case "recorder":
		h.handleRecorder(action, cmd, send)
	case "mode":
		h.handleMode(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "status":
		// Status is pushed automatically; an explicit get just triggers
		// an immediate update below.
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// scanUpdateRequest carries a scan/update command.
type scanUpdateRequest struct {
	Frequencies      []types.FrequencyProfile `json:"frequencies" validate:"required,min=1,max=100,dive"`
	RecordingEnabled bool                     `json:"recording_enabled"`
	DecodingEnabled  bool                     `json:"decoding_enabled"`
}

func (h *CommandHandler) handleScan(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		snap := h.cfg.Snapshot()
		SendSuccess(send, cmd.Type, map[string]any{
			"frequencies":       snap.Frequencies,
			"recording_enabled": snap.RecordingEnabled,
			"decoding_enabled":  snap.DecodingEnabled,
		})
	case "update":
		HandleCommand(cmd, send, func(req *scanUpdateRequest) error {
			if err := h.cfg.SetFrequencies(req.Frequencies); err != nil {
				return err
			}
			return h.cfg.SetScanFlags(req.RecordingEnabled, req.DecodingEnabled)
		})
	default:
		slog.Warn("unknown scan action", "action", action)
	}
}

// recorderUpdateRequest carries a recorder/update command.
type recorderUpdateRequest struct {
	RMSThreshold       float64 `json:"rms_threshold" validate:"required,gt=0,lte=1"`
	CaptureDwellMs     int64   `json:"capture_dwell_ms" validate:"gte=0"`
	SilenceTimeoutMs   int64   `json:"silence_timeout_ms" validate:"gte=0"`
	MinDurationSeconds int     `json:"min_duration_seconds" validate:"gte=0"`
}

func (h *CommandHandler) handleRecorder(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		snap := h.cfg.Snapshot()
		SendSuccess(send, cmd.Type, map[string]any{
			"rms_threshold":        snap.RMSThreshold,
			"capture_dwell_ms":     snap.CaptureDwell.Milliseconds(),
			"silence_timeout_ms":   snap.SilenceTimeout.Milliseconds(),
			"min_duration_seconds": int(snap.MinDuration.Seconds()),
			"codec":                snap.Codec,
			"storage_mode":         snap.StorageMode,
		})
	case "update":
		HandleCommand(cmd, send, func(req *recorderUpdateRequest) error {
			return h.cfg.SetRecorderTuning(req.RMSThreshold, req.CaptureDwellMs, req.SilenceTimeoutMs, req.MinDurationSeconds)
		})
	case "stop":
		if h.recorder == nil {
			SendError(send, cmd.Type, fmt.Errorf("recorder not available"))
			return
		}
		h.recorder.StopActiveCapture("operator request")
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown recorder action", "action", action)
	}
}

func (h *CommandHandler) handleMode(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "enter-auto":
		h.mode.EnterAutoMode()
		SendSuccess(send, cmd.Type, map[string]any{"state": h.mode.State()})
	case "exit-auto":
		h.mode.ExitAutoMode("operator request")
		SendSuccess(send, cmd.Type, map[string]any{"state": h.mode.State()})
	default:
		slog.Warn("unknown mode action", "action", action)
	}
}

// webhookUpdateRequest carries a notifications/webhook/update command.
type webhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

// logUpdateRequest carries a notifications/log/update command.
type logUpdateRequest struct {
	Path string `json:"path"`
}

// emailUpdateRequest carries a notifications/email/update command.
type emailUpdateRequest struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	FromAddress  string `json:"from_address" validate:"omitempty,email"`
	Recipients   string `json:"recipients"`
}

func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *webhookUpdateRequest) error {
				return h.cfg.SetWebhookURL(req.URL)
			})
		case "test":
			HandleActionAsync(cmd, send, func() (any, error) {
				return nil, notify.SendTestWebhook(h.cfg.Snapshot().WebhookURL)
			})
		case "get":
			SendSuccess(send, cmd.Type, map[string]any{"url": h.cfg.Snapshot().WebhookURL})
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *logUpdateRequest) error {
				return h.cfg.SetLogPath(req.Path)
			})
		case "test":
			HandleActionAsync(cmd, send, func() (any, error) {
				return nil, notify.WriteTestLog(h.cfg.Snapshot().LogPath)
			})
		case "get":
			SendSuccess(send, cmd.Type, map[string]any{"path": h.cfg.Snapshot().LogPath})
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *emailUpdateRequest) error {
				if err := h.cfg.SetGraphConfig(req.TenantID, req.ClientID, req.ClientSecret, req.FromAddress, req.Recipients); err != nil {
					return err
				}
				h.notifier.InvalidateGraphClient()
				return nil
			})
		case "test":
			HandleActionAsync(cmd, send, func() (any, error) {
				snap := h.cfg.Snapshot()
				graphCfg := snap.Graph()
				return nil, notify.SendTestEmail(&graphCfg)
			})
		case "get":
			snap := h.cfg.Snapshot()
			SendSuccess(send, cmd.Type, map[string]any{
				"tenant_id":    snap.GraphTenantID,
				"client_id":    snap.GraphClientID,
				"from_address": snap.GraphFromAddress,
				"recipients":   snap.GraphRecipients,
				"configured":   snap.HasGraph(),
			})
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}
