package netmon

import (
	"time"

	"geoattend/engine/internal/model"
)

// Derive maps a raw link snapshot to a NetworkStatus.
//
// Ethernet is always excellent. Wi-Fi is excellent at three bars or more
// (or when strength is unreported), good at two and poor below. Cellular is
// poor on 2g/3g or under two bars and good otherwise.
func Derive(link model.LinkStatus, at time.Time) model.NetworkStatus {
	status := model.NetworkStatus{
		IsConnected:   link.Connected && link.Transport != model.TransportNone && link.Transport != "",
		TransportType: link.Transport,
		QualityTier:   model.QualityUnknown,
		ObservedAt:    at,
	}
	if !status.IsConnected {
		status.TransportType = model.TransportNone
		return status
	}

	switch link.Transport {
	case model.TransportEthernet:
		status.QualityTier = model.QualityExcellent
	case model.TransportWiFi:
		switch {
		case link.Strength < 0 || link.Strength >= 3:
			status.QualityTier = model.QualityExcellent
		case link.Strength == 2:
			status.QualityTier = model.QualityGood
		default:
			status.QualityTier = model.QualityPoor
		}
	case model.TransportCellular:
		switch {
		case link.Generation == "2g" || link.Generation == "3g":
			status.QualityTier = model.QualityPoor
		case link.Strength >= 0 && link.Strength < 2:
			status.QualityTier = model.QualityPoor
		default:
			status.QualityTier = model.QualityGood
		}
	}
	return status
}

// Recommend decides whether a sync of payloadBytes should run now. Payloads
// of largeBytes or more are held back on poor or unknown links.
func Recommend(status model.NetworkStatus, payloadBytes, largeBytes int) model.SyncRecommendation {
	rec := model.SyncRecommendation{Quality: status.QualityTier}
	switch {
	case !status.IsConnected:
		rec.Reason = "offline"
	case status.QualityTier == model.QualityExcellent || status.QualityTier == model.QualityGood:
		rec.ShouldSync = true
		rec.Reason = "connection quality " + string(status.QualityTier)
	case payloadBytes >= largeBytes:
		rec.Reason = "large payload on " + string(status.QualityTier) + " connection"
	default:
		rec.ShouldSync = true
		rec.Reason = "small payload on " + string(status.QualityTier) + " connection"
	}
	return rec
}
