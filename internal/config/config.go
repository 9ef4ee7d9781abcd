// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort                = 8080
	DefaultRecordingsDir          = "/var/lib/scanrec/recordings"
	DefaultDecodingsDir           = "/var/lib/scanrec/decodings"
	DefaultRMSThreshold           = 0.01 // for a normalized -1.0..1.0 stream
	DefaultCaptureDwellMs         = 2000
	DefaultSilenceTimeoutMs       = 3000
	DefaultMinCaptureSeconds      = 5
	DefaultRetentionDays          = 7
	DefaultCleanupIntervalSeconds = 300
	DefaultTransitionDelayMs      = 2000
	DefaultTuneRetryDelayMs       = 5000
	DefaultPresencePollSeconds    = 5
	DefaultDecodingBufferSize     = 100
)

// DefaultLocalNetworks are the CIDR ranges whose clients count as local.
var DefaultLocalNetworks = []string{
	"127.0.0.1/32",
	"::1/128",
	"192.168.0.0/16",
	"10.0.0.0/8",
	"172.16.0.0/12",
}

// DefaultFrequencies is the built-in scan list used when the config file
// does not provide one.
var DefaultFrequencies = []types.FrequencyProfile{
	{FrequencyHz: 145800000, Mode: "nfm", Squelch: 0.15, BandwidthHz: 12500, DwellSeconds: 60, Label: "APRS 2m"},
	{FrequencyHz: 14074000, Mode: "usb", Squelch: 0.0, BandwidthHz: 2500, DwellSeconds: 120, Label: "FT8 20m"},
	{FrequencyHz: 144800000, Mode: "nfm", Squelch: 0.20, BandwidthHz: 12500, DwellSeconds: 60, Label: "Calling Channel"},
}

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath   string `json:"ffmpeg_path"`                     // Path to FFmpeg binary (empty = use PATH)
	Port         int    `json:"port" validate:"gte=0,lte=65535"` // HTTP server port
	StatusFile   string `json:"status_file"`                     // Periodic status export path (empty = disabled)
	ReceiverAddr string `json:"receiver_addr"`                   // rigctld host:port (empty = no receiver attached)
}

// ScanConfig holds the autonomous frequency cycle settings.
type ScanConfig struct {
	Frequencies      []types.FrequencyProfile `json:"frequencies" validate:"dive"` // Ordered scan list
	TransitionDelayMs int64                   `json:"transition_delay_ms"`         // Settle delay after tuning before decode/record
	TuneRetryDelayMs  int64                   `json:"tune_retry_delay_ms"`         // Wait after a tuning failure before retrying
	RecordingEnabled  bool                    `json:"recording_enabled"`           // Arm the recorder while in auto mode
	DecodingEnabled   bool                    `json:"decoding_enabled"`            // Start decoder sessions while in auto mode
}

// PresenceConfig holds remote-client detection settings.
type PresenceConfig struct {
	ConsiderLocalClients bool     `json:"consider_local_clients"` // Treat local clients as operators
	LocalNetworks        []string `json:"local_networks"`         // CIDR ranges classified as local
	PollSeconds          int      `json:"poll_seconds"`           // Reconciliation poll interval
}

// RecorderConfig holds signal-recorder thresholds and storage settings.
type RecorderConfig struct {
	Directory              string            `json:"directory"`                            // Where captures are written
	RMSThreshold           float64           `json:"rms_threshold" validate:"gte=0,lte=1"` // Signal detection level
	CaptureDwellMs         int64             `json:"capture_dwell_ms"`                     // Frequency stability required before starting
	SilenceTimeoutMs       int64             `json:"silence_timeout_ms"`                   // Silence after last signal before stopping
	MinDurationSeconds     int               `json:"min_duration_seconds"`                 // Shorter captures are discarded
	RetentionDays          int               `json:"retention_days"`                       // Age after which captures are deleted
	CleanupIntervalSeconds int               `json:"cleanup_interval_seconds"`             // Retention sweep period
	Codec                  types.Codec       `json:"codec"`                                // Conversion target codec
	StorageMode            types.StorageMode `json:"storage_mode"`                         // local, s3, or both
}

// S3Config holds object storage upload settings.
type S3Config struct {
	Endpoint  string `json:"endpoint"`   // S3-compatible endpoint URL
	Region    string `json:"region"`     // Bucket region
	Bucket    string `json:"bucket"`     // Target bucket
	AccessKey string `json:"access_key"` // Access key ID
	SecretKey string `json:"secret_key"` // Secret access key
	Prefix    string `json:"prefix"`     // Key prefix for uploads
}

// MQTTConfig holds event publishing settings.
type MQTTConfig struct {
	Broker      string `json:"broker"`       // Broker URL (tcp://, ssl://)
	TopicPrefix string `json:"topic_prefix"` // Prefix for published topics
	Username    string `json:"username"`     // Broker username
	Password    string `json:"password"`     // Broker password
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for capture and mode events
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for capture events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Log file settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// DecodingConfig holds decoder session persistence settings.
type DecodingConfig struct {
	Directory  string `json:"directory"`   // Where session outputs are written
	BufferSize int    `json:"buffer_size"` // Decodings buffered before a flush
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Scan          ScanConfig          `json:"scan"`
	Presence      PresenceConfig      `json:"presence"`
	Recorder      RecorderConfig      `json:"recorder"`
	S3            S3Config            `json:"s3"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Notifications NotificationsConfig `json:"notifications"`
	Decoding      DecodingConfig      `json:"decoding"`

	mu       sync.RWMutex
	filePath string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Scan: ScanConfig{
			Frequencies:      slices.Clone(DefaultFrequencies),
			RecordingEnabled: true,
			DecodingEnabled:  true,
		},
		Presence: PresenceConfig{
			LocalNetworks: slices.Clone(DefaultLocalNetworks),
		},
		Recorder: RecorderConfig{
			Directory:   DefaultRecordingsDir,
			Codec:       types.CodecMP3,
			StorageMode: types.StorageLocal,
		},
		Decoding: DecodingConfig{
			Directory: DefaultDecodingsDir,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validateLocked(); err != nil {
		return err
	}

	return nil
}

// validateLocked checks all configuration fields. Caller must hold c.mu.
func (c *Config) validateLocked() error {
	if err := validate.Struct(c); err != nil {
		return util.WrapError("validate config", err)
	}
	for _, cidr := range c.Presence.LocalNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid local network %q: %w", cidr, err)
		}
	}
	if _, ok := types.CodecPresets[c.Recorder.Codec]; !ok {
		return fmt.Errorf("invalid capture codec %q", c.Recorder.Codec)
	}
	switch c.Recorder.StorageMode {
	case types.StorageLocal, types.StorageS3, types.StorageBoth:
	default:
		return fmt.Errorf("invalid storage mode %q", c.Recorder.StorageMode)
	}
	if err := util.ValidatePath("recorder.directory", c.Recorder.Directory); err != nil {
		return err
	}
	if err := util.ValidatePath("decoding.directory", c.Decoding.Directory); err != nil {
		return err
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if len(c.Scan.Frequencies) == 0 {
		c.Scan.Frequencies = slices.Clone(DefaultFrequencies)
	}
	if c.Presence.LocalNetworks == nil {
		c.Presence.LocalNetworks = slices.Clone(DefaultLocalNetworks)
	}
	if c.Recorder.Directory == "" {
		c.Recorder.Directory = DefaultRecordingsDir
	}
	if c.Recorder.Codec == "" {
		c.Recorder.Codec = types.CodecMP3
	}
	if c.Recorder.StorageMode == "" {
		c.Recorder.StorageMode = types.StorageLocal
	}
	if c.Decoding.Directory == "" {
		c.Decoding.Directory = DefaultDecodingsDir
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	if c.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// Frequencies returns a copy of the configured scan list.
func (c *Config) Frequencies() []types.FrequencyProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Scan.Frequencies)
}

// SetFrequencies replaces the scan list and saves the configuration.
func (c *Config) SetFrequencies(freqs []types.FrequencyProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range freqs {
		if f.DwellSeconds == 0 {
			return fmt.Errorf("frequency %d: dwell_seconds must be positive", f.FrequencyHz)
		}
	}
	c.Scan.Frequencies = slices.Clone(freqs)
	return c.saveLocked()
}

// SetScanFlags updates the recording and decoding enable flags.
func (c *Config) SetScanFlags(recordingEnabled, decodingEnabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scan.RecordingEnabled = recordingEnabled
	c.Scan.DecodingEnabled = decodingEnabled
	return c.saveLocked()
}

// SetRecorderTuning updates the signal-detection parameters.
func (c *Config) SetRecorderTuning(rmsThreshold float64, captureDwellMs, silenceTimeoutMs int64, minDurationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rmsThreshold <= 0 || rmsThreshold >= 1 {
		return fmt.Errorf("rms_threshold must be in (0, 1)")
	}
	c.Recorder.RMSThreshold = rmsThreshold
	c.Recorder.CaptureDwellMs = captureDwellMs
	c.Recorder.SilenceTimeoutMs = silenceTimeoutMs
	c.Recorder.MinDurationSeconds = minDurationSeconds
	return c.saveLocked()
}

// SetWebhookURL updates the notification webhook URL.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the notification log file path.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path != "" {
		if err := util.ValidatePath("notifications.log.path", path); err != nil {
			return err
		}
	}
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates the Microsoft Graph email settings.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// GraphConfig bundles the Microsoft Graph credentials for the notifier.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	FromAddress  string
	Recipients   string
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort      int
	FFmpegPath   string
	StatusFile   string
	ReceiverAddr string

	// Scan
	Frequencies       []types.FrequencyProfile
	TransitionDelay   time.Duration
	TuneRetryDelay    time.Duration
	RecordingEnabled  bool
	DecodingEnabled   bool

	// Presence
	ConsiderLocalClients bool
	LocalNetworks        []string
	PresencePoll         time.Duration

	// Recorder
	RecordingsDir   string
	RMSThreshold    float64
	CaptureDwell    time.Duration
	SilenceTimeout  time.Duration
	MinDuration     time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
	Codec           types.Codec
	StorageMode     types.StorageMode

	// S3
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string

	// MQTT
	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Decoding
	DecodingsDir       string
	DecodingBufferSize int
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:      cmp.Or(c.System.Port, DefaultWebPort),
		FFmpegPath:   c.System.FFmpegPath,
		StatusFile:   c.System.StatusFile,
		ReceiverAddr: c.System.ReceiverAddr,

		// Scan
		Frequencies:      slices.Clone(c.Scan.Frequencies),
		TransitionDelay:  time.Duration(cmp.Or(c.Scan.TransitionDelayMs, DefaultTransitionDelayMs)) * time.Millisecond,
		TuneRetryDelay:   time.Duration(cmp.Or(c.Scan.TuneRetryDelayMs, DefaultTuneRetryDelayMs)) * time.Millisecond,
		RecordingEnabled: c.Scan.RecordingEnabled,
		DecodingEnabled:  c.Scan.DecodingEnabled,

		// Presence
		ConsiderLocalClients: c.Presence.ConsiderLocalClients,
		LocalNetworks:        slices.Clone(c.Presence.LocalNetworks),
		PresencePoll:         time.Duration(cmp.Or(c.Presence.PollSeconds, DefaultPresencePollSeconds)) * time.Second,

		// Recorder
		RecordingsDir:   cmp.Or(c.Recorder.Directory, DefaultRecordingsDir),
		RMSThreshold:    cmp.Or(c.Recorder.RMSThreshold, DefaultRMSThreshold),
		CaptureDwell:    time.Duration(cmp.Or(c.Recorder.CaptureDwellMs, DefaultCaptureDwellMs)) * time.Millisecond,
		SilenceTimeout:  time.Duration(cmp.Or(c.Recorder.SilenceTimeoutMs, DefaultSilenceTimeoutMs)) * time.Millisecond,
		MinDuration:     time.Duration(cmp.Or(c.Recorder.MinDurationSeconds, DefaultMinCaptureSeconds)) * time.Second,
		RetentionDays:   cmp.Or(c.Recorder.RetentionDays, DefaultRetentionDays),
		CleanupInterval: time.Duration(cmp.Or(c.Recorder.CleanupIntervalSeconds, DefaultCleanupIntervalSeconds)) * time.Second,
		Codec:           cmp.Or(c.Recorder.Codec, types.CodecMP3),
		StorageMode:     cmp.Or(c.Recorder.StorageMode, types.StorageLocal),

		// S3
		S3Endpoint:  c.S3.Endpoint,
		S3Region:    c.S3.Region,
		S3Bucket:    c.S3.Bucket,
		S3AccessKey: c.S3.AccessKey,
		S3SecretKey: c.S3.SecretKey,
		S3Prefix:    c.S3.Prefix,

		// MQTT
		MQTTBroker:      c.MQTT.Broker,
		MQTTTopicPrefix: cmp.Or(c.MQTT.TopicPrefix, "scanrec"),
		MQTTUsername:    c.MQTT.Username,
		MQTTPassword:    c.MQTT.Password,

		// Notifications
		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		// Decoding
		DecodingsDir:       cmp.Or(c.Decoding.Directory, DefaultDecodingsDir),
		DecodingBufferSize: cmp.Or(c.Decoding.BufferSize, DefaultDecodingBufferSize),
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasS3 reports whether S3 uploads are configured.
func (s *Snapshot) HasS3() bool {
	return s.S3Bucket != "" && s.S3AccessKey != "" && s.S3SecretKey != ""
}

// HasMQTT reports whether an MQTT broker is configured.
func (s *Snapshot) HasMQTT() bool {
	return s.MQTTBroker != ""
}

// Graph returns the Microsoft Graph credential bundle.
func (s *Snapshot) Graph() GraphConfig {
	return GraphConfig{
		TenantID:     s.GraphTenantID,
		ClientID:     s.GraphClientID,
		ClientSecret: s.GraphClientSecret,
		FromAddress:  s.GraphFromAddress,
		Recipients:   s.GraphRecipients,
	}
}
