package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_geoattend._tcp"
	mdnsDomain      = "local."
	mdnsMaxLabel    = 63
)

// startMDNS advertises the status surface so companion tools on the LAN can
// find this device.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	instance := sanitizeMDNSInstance(fmt.Sprintf("GeoAttend (%s)", a.cfg.DeviceID))
	txt := []string{
		fmt.Sprintf("http_port=%d", port),
		fmt.Sprintf("device_id=%s", a.cfg.DeviceID),
		fmt.Sprintf("host=%s", mdnsHostFQDN()),
		"proto=v1",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func mdnsHostFQDN() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}
	label := sanitizeMDNSHost(hostname)
	if strings.Contains(label, ".") {
		return label
	}
	return label + ".local"
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = "GeoAttend"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	cleaned = strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(cleaned)
	if cleaned == "" {
		cleaned = "geoattend"
	}
	return truncateRunes(cleaned, mdnsMaxLabel)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
