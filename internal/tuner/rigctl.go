package tuner

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rxtools/scanrec/internal/util"
)

const (
	rigctlTimeout = 5 * time.Second
)

// modeNames maps our lowercase demodulation names to hamlib mode names.
var modeNames = map[string]string{
	"nfm": "FM",
	"wfm": "WFM",
	"am":  "AM",
	"usb": "USB",
	"lsb": "LSB",
	"cw":  "CW",
}

// rigctlModes is the reverse of modeNames for reading settings back.
var rigctlModes = func() map[string]string {
	m := make(map[string]string, len(modeNames))
	for k, v := range modeNames {
		m[v] = k
	}
	return m
}()

// RigctlReceiver controls a receiver through a hamlib rigctld daemon
// using its plain text network protocol. It is safe for concurrent use;
// commands are serialized over a single connection that reconnects on
// failure.
type RigctlReceiver struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	// lastMode backs bandwidth changes, which rigctld couples to the
	// mode command.
	lastMode string
}

// NewRigctlReceiver returns a receiver backend for the given rigctld
// address. The connection is established lazily on first use.
func NewRigctlReceiver(addr string) *RigctlReceiver {
	return &RigctlReceiver{addr: addr}
}

// connectLocked dials rigctld. Caller must hold r.mu.
func (r *RigctlReceiver) connectLocked() error {
	if r.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", r.addr, rigctlTimeout)
	if err != nil {
		return util.WrapError("connect to rigctld", err)
	}
	r.conn = conn
	r.reader = bufio.NewReader(conn)
	return nil
}

// dropLocked closes the connection so the next command redials.
func (r *RigctlReceiver) dropLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
		r.reader = nil
	}
}

// command sends one rigctld command and reads want response lines. A
// set command answers with a single "RPRT n" line; get commands answer
// with their values.
func (r *RigctlReceiver) command(cmd string, want int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(); err != nil {
		return nil, err
	}

	if err := r.conn.SetDeadline(time.Now().Add(rigctlTimeout)); err != nil {
		r.dropLocked()
		return nil, util.WrapError("set deadline", err)
	}

	if _, err := fmt.Fprintf(r.conn, "%s\n", cmd); err != nil {
		r.dropLocked()
		return nil, util.WrapError("send rigctld command", err)
	}

	lines := make([]string, 0, want)
	for range want {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			r.dropLocked()
			return nil, util.WrapError("read rigctld response", err)
		}
		line = strings.TrimSpace(line)
		if code, ok := strings.CutPrefix(line, "RPRT "); ok && code != "0" {
			return nil, fmt.Errorf("rigctld error %s for %q", code, cmd)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// SetFrequency tunes the receiver to the given frequency.
func (r *RigctlReceiver) SetFrequency(hz uint64) error {
	_, err := r.command(fmt.Sprintf("F %d", hz), 1)
	return err
}

// SetMode selects the demodulation mode. Unknown mode names report
// ErrUnsupported.
func (r *RigctlReceiver) SetMode(name string) error {
	rigName, ok := modeNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("mode %q: %w", name, ErrUnsupported)
	}

	// Passband 0 keeps the rig's default filter for the mode.
	if _, err := r.command(fmt.Sprintf("M %s 0", rigName), 1); err != nil {
		return err
	}

	r.mu.Lock()
	r.lastMode = rigName
	r.mu.Unlock()
	return nil
}

// SetSquelch sets the squelch level (0..1).
func (r *RigctlReceiver) SetSquelch(level float64) error {
	_, err := r.command(fmt.Sprintf("L SQL %.3f", level), 1)
	return err
}

// SetBandwidth sets the filter passband. rigctld couples the passband
// to the mode command, so the last selected mode is re-sent.
func (r *RigctlReceiver) SetBandwidth(hz uint32) error {
	r.mu.Lock()
	mode := r.lastMode
	r.mu.Unlock()
	if mode == "" {
		return fmt.Errorf("bandwidth before mode: %w", ErrUnsupported)
	}
	_, err := r.command(fmt.Sprintf("M %s %d", mode, hz), 1)
	return err
}

// Settings reads the receiver's current frequency, mode, passband and
// squelch level.
func (r *RigctlReceiver) Settings() (Settings, error) {
	var s Settings

	lines, err := r.command("f", 1)
	if err != nil {
		return s, err
	}
	if s.FrequencyHz, err = strconv.ParseUint(lines[0], 10, 64); err != nil {
		return s, fmt.Errorf("parse frequency %q: %w", lines[0], err)
	}

	lines, err = r.command("m", 2)
	if err != nil {
		return s, err
	}
	if name, ok := rigctlModes[lines[0]]; ok {
		s.Mode = name
	} else {
		s.Mode = strings.ToLower(lines[0])
	}
	if bw, err := strconv.ParseUint(lines[1], 10, 32); err == nil {
		s.BandwidthHz = uint32(bw)
	}

	lines, err = r.command("l SQL", 1)
	if err != nil {
		return s, err
	}
	if s.Squelch, err = strconv.ParseFloat(lines[0], 64); err != nil {
		return s, fmt.Errorf("parse squelch %q: %w", lines[0], err)
	}

	return s, nil
}

// Close closes the rigctld connection.
func (r *RigctlReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.reader = nil
	return err
}
