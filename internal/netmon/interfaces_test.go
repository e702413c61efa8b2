package netmon

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"geoattend/engine/internal/model"
)

const up = net.FlagUp | net.FlagRunning

func TestSelectLink(t *testing.T) {
	tests := []struct {
		name      string
		ifaces    []net.Interface
		signal    map[string]int
		transport model.TransportType
		strength  int
	}{
		{
			name:      "loopback only",
			ifaces:    []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}},
			transport: model.TransportNone,
			strength:  -1,
		},
		{
			name:      "wifi with signal",
			ifaces:    []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}, {Name: "wlan0", Flags: up}},
			signal:    map[string]int{"wlan0": 2},
			transport: model.TransportWiFi,
			strength:  2,
		},
		{
			name:      "ethernet preferred over wifi",
			ifaces:    []net.Interface{{Name: "wlp2s0", Flags: up}, {Name: "enp3s0", Flags: up}},
			transport: model.TransportEthernet,
			strength:  -1,
		},
		{
			name:      "down interface ignored",
			ifaces:    []net.Interface{{Name: "eth0", Flags: net.FlagUp}, {Name: "wwan0", Flags: up}},
			transport: model.TransportCellular,
			strength:  -1,
		},
		{
			name:      "virtual bridges ignored",
			ifaces:    []net.Interface{{Name: "docker0", Flags: up}, {Name: "veth12ab", Flags: up}},
			transport: model.TransportNone,
			strength:  -1,
		},
		{
			name:      "vpn tunnel is other",
			ifaces:    []net.Interface{{Name: "tun0", Flags: up}},
			transport: model.TransportOther,
			strength:  -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := selectLink(tc.ifaces, tc.signal)
			if got.Transport != tc.transport || got.Strength != tc.strength {
				t.Errorf("want %s/%d, got %+v", tc.transport, tc.strength, got)
			}
			if got.Connected != (tc.transport != model.TransportNone) {
				t.Errorf("unexpected connected flag: %+v", got)
			}
		})
	}
}

func TestParseWireless(t *testing.T) {
	raw := []byte(`Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
 wlp3s0: 0000   10.  -90.  -256        0      0      0      0      0        0
`)
	got := parseWireless(raw)
	if got["wlan0"] != 3 {
		t.Errorf("wlan0: want 3 bars, got %d", got["wlan0"])
	}
	if got["wlp3s0"] != 1 {
		t.Errorf("wlp3s0: want 1 bar, got %d", got["wlp3s0"])
	}
	if len(got) != 2 {
		t.Errorf("expected 2 interfaces, got %v", got)
	}
}

func TestInterfaceWatcher_FiresOnChange(t *testing.T) {
	var flip atomic.Bool
	w := NewInterfaceWatcher(5*time.Millisecond, discardLogger())
	w.list = func() ([]net.Interface, error) {
		if flip.Load() {
			return []net.Interface{{Name: "eth0", Flags: up}}, nil
		}
		return []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}}, nil
	}
	w.wireless = func() ([]byte, error) { return nil, nil }

	changes := make(chan model.LinkStatus, 8)
	cancel := w.OnChange(func(l model.LinkStatus) { changes <- l })
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go w.Run(ctx)

	first := <-changes
	if first.Connected {
		t.Fatalf("expected initial offline, got %+v", first)
	}

	flip.Store(true)
	select {
	case l := <-changes:
		if l.Transport != model.TransportEthernet {
			t.Errorf("expected ethernet, got %+v", l)
		}
	case <-time.After(time.Second):
		t.Fatal("no change observed")
	}
}
