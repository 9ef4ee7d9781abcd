package types

import "time"

// OrchestratorStatus is a point-in-time snapshot of the state machine.
type OrchestratorStatus struct {
	Initialized             bool          `json:"initialized"`
	State                   AutoModeState `json:"state"`
	Running                 bool          `json:"running"`
	CurrentIndex            int           `json:"current_index"`
	CurrentFrequencyHz      uint64        `json:"current_frequency_hz"`
	TotalFrequencies        int           `json:"total_frequencies"`
	ConsecutiveTuneFailures int           `json:"consecutive_tune_failures"`
	EnteredAutoAt           *time.Time    `json:"entered_auto_at,omitempty"`
}

// RecorderStatus is a point-in-time snapshot of the signal recorder.
type RecorderStatus struct {
	Armed              bool    `json:"armed"`
	Capturing          bool    `json:"capturing"`
	FrequencyHz        uint64  `json:"frequency_hz,omitempty"`
	DurationSeconds    float64 `json:"duration_seconds,omitempty"`
	CapturesSaved      uint64  `json:"captures_saved"`
	CapturesDiscarded  uint64  `json:"captures_discarded"`
	ConversionFailures uint64  `json:"conversion_failures"`
	PendingConversions int     `json:"pending_conversions"`
}

// ClientCounts summarizes currently connected clients.
type ClientCounts struct {
	Total  int `json:"total"`
	Remote int `json:"remote"`
	Local  int `json:"local"`
}

// ClientInfo describes one connected client in status output.
type ClientInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Local       bool      `json:"local"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// VersionInfo describes the running build and any available update.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}

// StatusReport is the top-level document served by the status API and
// written to the status file.
type StatusReport struct {
	Timestamp    time.Time          `json:"timestamp"`
	Version      VersionInfo        `json:"version"`
	Components   map[string]bool    `json:"components"`
	Orchestrator OrchestratorStatus `json:"orchestrator"`
	Recorder     RecorderStatus     `json:"recorder"`
	Clients      ClientCounts       `json:"clients"`
	Decoding     DecodingStatus     `json:"decoding"`
}

// DecodingStatus is a point-in-time snapshot of the decoding session manager.
type DecodingStatus struct {
	Active      bool   `json:"active"`
	SessionID   string `json:"session_id,omitempty"`
	FrequencyHz uint64 `json:"frequency_hz,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Buffered    int    `json:"buffered"`
	Total       int    `json:"total"`
}

// WSRecordingStatus is pushed to WebSocket clients when a capture starts
// or stops.
type WSRecordingStatus struct {
	Type        string `json:"type"` // "recording_status"
	Recording   bool   `json:"recording"`
	FrequencyHz uint64 `json:"frequency_hz,omitempty"`
}

// WSStateChange is pushed to WebSocket clients on orchestrator transitions.
type WSStateChange struct {
	Type  string        `json:"type"` // "state_change"
	State AutoModeState `json:"state"`
}
