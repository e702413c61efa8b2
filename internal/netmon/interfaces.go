package netmon

import (
	"context"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"geoattend/engine/internal/model"
)

const wirelessStatsPath = "/proc/net/wireless"

// InterfaceWatcher implements Connectivity on Linux hosts by polling the
// interface table. It fires OnChange callbacks when the derived link changes.
type InterfaceWatcher struct {
	interval time.Duration
	logger   *slog.Logger
	list     func() ([]net.Interface, error)
	wireless func() ([]byte, error)

	mu     sync.Mutex
	subs   map[int]func(model.LinkStatus)
	nextID int
	last   model.LinkStatus
	seen   bool
}

// NewInterfaceWatcher constructs a watcher polling every interval.
func NewInterfaceWatcher(interval time.Duration, logger *slog.Logger) *InterfaceWatcher {
	return &InterfaceWatcher{
		interval: interval,
		logger:   logger,
		list:     net.Interfaces,
		wireless: func() ([]byte, error) { return os.ReadFile(wirelessStatsPath) },
		subs:     make(map[int]func(model.LinkStatus)),
	}
}

func (w *InterfaceWatcher) CurrentStatus(context.Context) (model.LinkStatus, error) {
	ifaces, err := w.list()
	if err != nil {
		return model.LinkStatus{}, err
	}

	var signal map[string]int
	if raw, err := w.wireless(); err == nil {
		signal = parseWireless(raw)
	}
	return selectLink(ifaces, signal), nil
}

func (w *InterfaceWatcher) OnChange(cb func(model.LinkStatus)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = cb
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Run polls until ctx is done.
func (w *InterfaceWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *InterfaceWatcher) poll(ctx context.Context) {
	link, err := w.CurrentStatus(ctx)
	if err != nil {
		w.logger.Warn("list network interfaces", "error", err)
		return
	}

	w.mu.Lock()
	changed := !w.seen || link != w.last
	w.last, w.seen = link, true
	var cbs []func(model.LinkStatus)
	if changed {
		for _, cb := range w.subs {
			cbs = append(cbs, cb)
		}
	}
	w.mu.Unlock()

	for _, cb := range cbs {
		cb(link)
	}
}

var transportRank = map[model.TransportType]int{
	model.TransportEthernet: 4,
	model.TransportWiFi:     3,
	model.TransportCellular: 2,
	model.TransportOther:    1,
}

// selectLink picks the best usable interface.
func selectLink(ifaces []net.Interface, signal map[string]int) model.LinkStatus {
	best := model.LinkStatus{Transport: model.TransportNone, Strength: -1}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		transport, ok := classifyInterface(iface.Name)
		if !ok {
			continue
		}
		if transportRank[transport] <= transportRank[best.Transport] {
			continue
		}
		best = model.LinkStatus{Connected: true, Transport: transport, Strength: -1}
		if s, ok := signal[iface.Name]; ok && transport == model.TransportWiFi {
			best.Strength = s
		}
	}
	return best
}

func classifyInterface(name string) (model.TransportType, bool) {
	switch {
	case strings.HasPrefix(name, "docker"), strings.HasPrefix(name, "veth"),
		strings.HasPrefix(name, "br-"), strings.HasPrefix(name, "virbr"):
		return "", false
	case strings.HasPrefix(name, "wl"):
		return model.TransportWiFi, true
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return model.TransportEthernet, true
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "ppp"):
		return model.TransportCellular, true
	default:
		return model.TransportOther, true
	}
}

// parseWireless reads link quality out of /proc/net/wireless and converts it
// to 0..4 bars against the usual 70-point scale.
func parseWireless(raw []byte) map[string]int {
	out := make(map[string]int)
	for _, line := range strings.Split(string(raw), "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			continue
		}
		quality, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "."), 64)
		if err != nil {
			continue
		}
		bars := int(math.Round(quality / 70 * 4))
		bars = max(0, min(4, bars))
		out[strings.TrimSpace(name)] = bars
	}
	return out
}
