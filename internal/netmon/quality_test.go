package netmon

import (
	"testing"
	"time"

	"geoattend/engine/internal/model"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name      string
		link      model.LinkStatus
		connected bool
		tier      model.QualityTier
	}{
		{"disconnected", model.LinkStatus{Connected: false, Transport: model.TransportWiFi, Strength: 4}, false, model.QualityUnknown},
		{"no transport", model.LinkStatus{Connected: true, Transport: model.TransportNone, Strength: -1}, false, model.QualityUnknown},
		{"ethernet", model.LinkStatus{Connected: true, Transport: model.TransportEthernet, Strength: -1}, true, model.QualityExcellent},
		{"wifi strong", model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: 4}, true, model.QualityExcellent},
		{"wifi unknown strength", model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: -1}, true, model.QualityExcellent},
		{"wifi fair", model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: 2}, true, model.QualityGood},
		{"wifi weak", model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: 1}, true, model.QualityPoor},
		{"cellular 5g", model.LinkStatus{Connected: true, Transport: model.TransportCellular, Strength: 3, Generation: "5g"}, true, model.QualityGood},
		{"cellular 4g weak", model.LinkStatus{Connected: true, Transport: model.TransportCellular, Strength: 1, Generation: "4g"}, true, model.QualityPoor},
		{"cellular 3g", model.LinkStatus{Connected: true, Transport: model.TransportCellular, Strength: 4, Generation: "3g"}, true, model.QualityPoor},
		{"cellular unknown", model.LinkStatus{Connected: true, Transport: model.TransportCellular, Strength: -1}, true, model.QualityGood},
		{"other", model.LinkStatus{Connected: true, Transport: model.TransportOther, Strength: -1}, true, model.QualityUnknown},
	}

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.link, at)
			if got.IsConnected != tc.connected {
				t.Errorf("connected: want %v, got %v", tc.connected, got.IsConnected)
			}
			if got.QualityTier != tc.tier {
				t.Errorf("tier: want %s, got %s", tc.tier, got.QualityTier)
			}
			if !got.IsConnected && got.TransportType != model.TransportNone {
				t.Errorf("disconnected status must report no transport, got %s", got.TransportType)
			}
			if !got.ObservedAt.Equal(at) {
				t.Errorf("observed_at not carried through")
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	const large = 1000
	tests := []struct {
		name    string
		status  model.NetworkStatus
		payload int
		want    bool
	}{
		{"offline", model.NetworkStatus{IsConnected: false, QualityTier: model.QualityUnknown}, 10, false},
		{"excellent large", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityExcellent}, 5000, true},
		{"good large", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityGood}, 5000, true},
		{"poor large", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityPoor}, 5000, false},
		{"poor small", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityPoor}, 10, true},
		{"unknown large", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityUnknown}, large, false},
		{"unknown small", model.NetworkStatus{IsConnected: true, QualityTier: model.QualityUnknown}, 10, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Recommend(tc.status, tc.payload, large)
			if got.ShouldSync != tc.want {
				t.Errorf("want shouldSync=%v, got %+v", tc.want, got)
			}
			if got.Reason == "" {
				t.Error("expected a reason")
			}
			if got.Quality != tc.status.QualityTier {
				t.Errorf("quality not carried through: %s", got.Quality)
			}
		})
	}
}
