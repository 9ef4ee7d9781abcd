// Package presence tracks connected clients and classifies them as local
// or remote. Remote-client transitions drive the orchestrator.
package presence

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/types"
)

// Client describes one connected client.
type Client struct {
	ID          string
	Address     string
	UserAgent   string
	ConnectedAt time.Time
	LastSeen    time.Time
	local       bool
}

// Callbacks receive edge-triggered presence transitions. Both are invoked
// outside the tracker lock; a nil field is skipped.
type Callbacks struct {
	// OnRemoteClientConnected fires when the remote count goes 0 -> >0.
	OnRemoteClientConnected func()
	// OnAllRemoteClientsGone fires when the remote count goes >0 -> 0.
	OnAllRemoteClientsGone func()
}

// Tracker is a registry of connected clients. It is safe for concurrent use.
type Tracker struct {
	mu                   sync.Mutex
	clients              map[string]*Client
	localNets            []*net.IPNet
	considerLocalClients bool
	callbacks            Callbacks
	lastHadRemote        bool

	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// Options configures a Tracker.
type Options struct {
	// LocalNetworks are CIDR ranges whose clients classify as local.
	LocalNetworks []string
	// ConsiderLocalClients makes local clients count as operators.
	ConsiderLocalClients bool
	// PollInterval is the reconciliation poll period (0 disables the poll).
	PollInterval time.Duration
	// Callbacks receive presence transitions.
	Callbacks Callbacks
}

// NewTracker creates a tracker. Invalid CIDR entries are skipped with a
// warning.
func NewTracker(opts Options) *Tracker {
	t := &Tracker{
		clients:              make(map[string]*Client),
		considerLocalClients: opts.ConsiderLocalClients,
		callbacks:            opts.Callbacks,
		pollInterval:         opts.PollInterval,
		stopCh:               make(chan struct{}),
	}
	for _, cidr := range opts.LocalNetworks {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("skipping invalid local network", "cidr", cidr, "error", err)
			continue
		}
		t.localNets = append(t.localNets, ipnet)
	}
	return t
}

// Start launches the reconciliation poll, a safety net for missed
// disconnect events.
func (t *Tracker) Start() {
	if t.pollInterval <= 0 {
		return
	}
	t.wg.Add(1)
	go t.pollLoop()
}

// Stop terminates the reconciliation poll and waits for it to exit.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()
}

func (t *Tracker) pollLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.reconcile()
		}
	}
}

// reconcile re-evaluates the remote flag against the current client set.
func (t *Tracker) reconcile() {
	t.mu.Lock()
	hadRemote := t.lastHadRemote
	hasRemote := t.hasRemoteLocked()
	t.lastHadRemote = hasRemote
	t.mu.Unlock()

	if hadRemote == hasRemote {
		return
	}
	slog.Info("presence reconciliation detected transition", "has_remote", hasRemote)
	t.fireTransition(hasRemote)
}

// isLocal classifies a client address against the configured networks.
// Unparsable addresses classify as remote so an unknown client always
// blocks autonomous operation.
func (t *Tracker) isLocal(address string) bool {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range t.localNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// countsAsOperator reports whether a client blocks autonomous mode.
func (t *Tracker) countsAsOperator(c *Client) bool {
	return t.considerLocalClients || !c.local
}

// updateGaugesLocked refreshes the client gauges. Caller must hold t.mu.
func (t *Tracker) updateGaugesLocked() {
	var local, remote int
	for _, c := range t.clients {
		if c.local {
			local++
		} else {
			remote++
		}
	}
	metrics.LocalClients.Set(float64(local))
	metrics.RemoteClients.Set(float64(remote))
}

// hasRemoteLocked reports operator presence. Caller must hold t.mu.
func (t *Tracker) hasRemoteLocked() bool {
	for _, c := range t.clients {
		if t.countsAsOperator(c) {
			return true
		}
	}
	return false
}

// ClientConnected registers a client and fires the connect transition if
// the operator count left zero.
func (t *Tracker) ClientConnected(id, address, userAgent string) {
	now := time.Now()
	c := &Client{
		ID:          id,
		Address:     address,
		UserAgent:   userAgent,
		ConnectedAt: now,
		LastSeen:    now,
		local:       t.isLocal(address),
	}

	t.mu.Lock()
	hadRemote := t.hasRemoteLocked()
	t.clients[id] = c
	hasRemote := t.hasRemoteLocked()
	t.lastHadRemote = hasRemote
	t.updateGaugesLocked()
	t.mu.Unlock()

	slog.Info("client connected", "id", id, "address", address, "local", c.local)

	if !hadRemote && hasRemote {
		t.fireTransition(true)
	}
}

// ClientDisconnected removes a client and fires the all-gone transition
// if the last operator left. Unknown IDs are ignored.
func (t *Tracker) ClientDisconnected(id string) {
	t.mu.Lock()
	c, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	hadRemote := t.hasRemoteLocked()
	delete(t.clients, id)
	hasRemote := t.hasRemoteLocked()
	t.lastHadRemote = hasRemote
	t.updateGaugesLocked()
	t.mu.Unlock()

	slog.Info("client disconnected", "id", id, "address", c.Address, "local", c.local)

	if hadRemote && !hasRemote {
		t.fireTransition(false)
	}
}

// ClientActivity refreshes a client's last-seen timestamp.
func (t *Tracker) ClientActivity(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[id]; ok {
		c.LastSeen = time.Now()
	}
}

// HasRemoteClients reports whether any operator-counting client is
// connected.
func (t *Tracker) HasRemoteClients() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasRemoteLocked()
}

// Counts returns current client totals.
func (t *Tracker) Counts() types.ClientCounts {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := types.ClientCounts{Total: len(t.clients)}
	for _, c := range t.clients {
		if c.local {
			counts.Local++
		} else {
			counts.Remote++
		}
	}
	return counts
}

// Clients returns a snapshot of connected clients for status output.
func (t *Tracker) Clients() []types.ClientInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]types.ClientInfo, 0, len(t.clients))
	for _, c := range t.clients {
		infos = append(infos, types.ClientInfo{
			ID:          c.ID,
			Address:     c.Address,
			UserAgent:   c.UserAgent,
			Local:       c.local,
			ConnectedAt: c.ConnectedAt,
			LastSeen:    c.LastSeen,
		})
	}
	return infos
}

// fireTransition invokes the matching callback with panic recovery.
func (t *Tracker) fireTransition(hasRemote bool) {
	var fn func()
	if hasRemote {
		fn = t.callbacks.OnRemoteClientConnected
	} else {
		fn = t.callbacks.OnAllRemoteClientsGone
	}
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("presence callback panicked", "has_remote", hasRemote, "panic", r)
		}
	}()
	fn()
}
