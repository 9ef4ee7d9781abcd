package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/notify"
	"github.com/rxtools/scanrec/internal/types"
)

type fakeMode struct {
	state   types.AutoModeState
	entered int
	exited  int
}

func (f *fakeMode) EnterAutoMode() {
	f.state = types.StateAuto
	f.entered++
}

func (f *fakeMode) ExitAutoMode(string) {
	f.state = types.StateManual
	f.exited++
}

func (f *fakeMode) State() types.AutoModeState { return f.state }

type fakeStopper struct{ stops int }

func (f *fakeStopper) StopActiveCapture(string) { f.stops++ }

func newTestHandler() (*CommandHandler, *fakeMode, *fakeStopper) {
	cfg := config.New("")
	mode := &fakeMode{state: types.StateManual}
	stopper := &fakeStopper{}
	h := NewCommandHandler(cfg, mode, stopper, notify.NewNotifier(cfg))
	return h, mode, stopper
}

// drain collects all responses currently queued on the channel.
func drain(send chan any) []map[string]any {
	var out []map[string]any
	for {
		select {
		case msg := <-send:
			data, _ := json.Marshal(msg)
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func handle(h *CommandHandler, cmdType string, data any) chan any {
	send := make(chan any, 16)
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	h.Handle(WSCommand{Type: cmdType, Data: raw}, send, func() {})
	return send
}

func TestScanGetReturnsConfiguredFrequencies(t *testing.T) {
	h, _, _ := newTestHandler()
	send := handle(h, "scan/get", nil)

	msgs := drain(send)
	if len(msgs) != 1 {
		t.Fatalf("got %d responses, want 1", len(msgs))
	}
	if msgs[0]["type"] != "scan/get_result" || msgs[0]["success"] != true {
		t.Errorf("response = %v", msgs[0])
	}
	data := msgs[0]["data"].(map[string]any)
	freqs := data["frequencies"].([]any)
	if len(freqs) != len(config.DefaultFrequencies) {
		t.Errorf("got %d frequencies, want %d", len(freqs), len(config.DefaultFrequencies))
	}
}

func TestScanUpdateReplacesFrequencyList(t *testing.T) {
	h, _, _ := newTestHandler()
	send := handle(h, "scan/update", map[string]any{
		"frequencies": []map[string]any{
			{"frequency_hz": 7078000, "mode": "usb", "dwell_seconds": 90},
		},
		"recording_enabled": true,
	})

	msgs := drain(send)
	if len(msgs) != 1 || msgs[0]["success"] != true {
		t.Fatalf("responses = %v", msgs)
	}

	freqs := h.cfg.Frequencies()
	if len(freqs) != 1 || freqs[0].FrequencyHz != 7078000 || freqs[0].Mode != "usb" {
		t.Errorf("frequencies = %v", freqs)
	}
	snap := h.cfg.Snapshot()
	if !snap.RecordingEnabled || snap.DecodingEnabled {
		t.Errorf("flags = recording %v decoding %v", snap.RecordingEnabled, snap.DecodingEnabled)
	}
}

func TestScanUpdateRejectsEmptyList(t *testing.T) {
	h, _, _ := newTestHandler()
	before := len(h.cfg.Frequencies())

	send := handle(h, "scan/update", map[string]any{"frequencies": []map[string]any{}})

	msgs := drain(send)
	if len(msgs) != 1 || msgs[0]["success"] != false {
		t.Fatalf("responses = %v", msgs)
	}
	if got := len(h.cfg.Frequencies()); got != before {
		t.Errorf("frequency list changed on invalid update: %d", got)
	}
}

func TestRecorderUpdateRejectsOutOfRangeThreshold(t *testing.T) {
	h, _, _ := newTestHandler()
	send := handle(h, "recorder/update", map[string]any{
		"rms_threshold":        1.5,
		"silence_timeout_ms":   3000,
		"min_duration_seconds": 5,
	})

	msgs := drain(send)
	if len(msgs) != 1 || msgs[0]["success"] != false {
		t.Fatalf("responses = %v", msgs)
	}
}

func TestModeCommandsDriveController(t *testing.T) {
	h, mode, _ := newTestHandler()

	drain(handle(h, "mode/enter-auto", nil))
	if mode.entered != 1 {
		t.Errorf("entered = %d", mode.entered)
	}
	drain(handle(h, "mode/exit-auto", nil))
	if mode.exited != 1 {
		t.Errorf("exited = %d", mode.exited)
	}
}

func TestRecorderStopCommand(t *testing.T) {
	h, _, stopper := newTestHandler()
	msgs := drain(handle(h, "recorder/stop", nil))
	if len(msgs) != 1 || msgs[0]["success"] != true {
		t.Fatalf("responses = %v", msgs)
	}
	if stopper.stops != 1 {
		t.Errorf("stops = %d", stopper.stops)
	}
}

func TestHandleTriggersStatusUpdate(t *testing.T) {
	h, _, _ := newTestHandler()
	triggered := 0
	h.Handle(WSCommand{Type: "status/get"}, make(chan any, 1), func() { triggered++ })
	if triggered != 1 {
		t.Errorf("status update triggered %d times", triggered)
	}
}

func TestEmailTestCommandReportsConfigurationError(t *testing.T) {
	h, _, _ := newTestHandler()
	send := handle(h, "notifications/email/test", nil)

	// The test send runs asynchronously; with no Graph credentials
	// configured it fails validation before touching the network.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := drain(send); len(msgs) > 0 {
			if msgs[0]["success"] != false {
				t.Fatalf("response = %v", msgs[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no response to email test command")
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "example.com", true},
		{"localhost", "http://localhost:8080", "example.com", true},
		{"loopback v4", "http://127.0.0.1", "example.com", true},
		{"private range", "http://192.168.1.50:3000", "example.com", true},
		{"same origin", "https://sdr.example.com", "sdr.example.com:443", true},
		{"cross origin", "https://evil.example.net", "sdr.example.com", false},
		{"garbage origin", "://not-a-url", "sdr.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(origin=%q, host=%q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}
