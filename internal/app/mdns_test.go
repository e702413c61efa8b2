package app

import (
	"strings"
	"testing"
)

func TestSanitizeMDNSInstance(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "GeoAttend (pixel.7)", want: "GeoAttend (pixel 7)"},
		{in: "  line\nbreak_here ", want: "line break here"},
		{in: "   ", want: "GeoAttend"},
		{in: strings.Repeat("a", 80), want: strings.Repeat("a", 63)},
	}
	for _, tt := range tests {
		if got := sanitizeMDNSInstance(tt.in); got != tt.want {
			t.Errorf("sanitizeMDNSInstance(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeMDNSHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Field Tablet_01", want: "field-tablet-01"},
		{in: "", want: "geoattend"},
		{in: strings.Repeat("h", 70), want: strings.Repeat("h", 63)},
	}
	for _, tt := range tests {
		if got := sanitizeMDNSHost(tt.in); got != tt.want {
			t.Errorf("sanitizeMDNSHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
