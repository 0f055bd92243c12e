package receiver

import (
	"github.com/tphakala/btsink/internal/logger"
)

// Discoverability controls whether the receiver can be found and connected.
type Discoverability interface {
	SetScanMode(connectable, discoverable bool) error
}

// DelayReporter answers the peer's delay query.
type DelayReporter interface {
	ReportDelay(value uint16) error
}

// CapabilityRequester asks the peer which notifications it supports.
type CapabilityRequester interface {
	RequestCapabilities() error
}

// VolumeNotifier tells the peer about local volume changes.
type VolumeNotifier interface {
	NotifyVolume(volume uint8) error
}

// Peer is the protocol stack boundary the controller talks back to.
type Peer interface {
	Discoverability
	DelayReporter
	CapabilityRequester
	VolumeNotifier
}

// LogPeer is a Peer that only logs what would be sent. It stands in for a
// real protocol stack when audio comes from a file.
type LogPeer struct {
	Logger logger.Logger
}

func (p LogPeer) log() logger.Logger {
	if p.Logger == nil {
		return GetLogger()
	}
	return p.Logger
}

// SetScanMode logs the requested scan mode.
func (p LogPeer) SetScanMode(connectable, discoverable bool) error {
	p.log().Debug("scan mode",
		logger.Bool("connectable", connectable),
		logger.Bool("discoverable", discoverable))
	return nil
}

// ReportDelay logs the delay report.
func (p LogPeer) ReportDelay(value uint16) error {
	p.log().Debug("delay report", logger.Int("value", int(value)))
	return nil
}

// RequestCapabilities logs the capability request.
func (p LogPeer) RequestCapabilities() error {
	p.log().Debug("capability request")
	return nil
}

// NotifyVolume logs the volume notification.
func (p LogPeer) NotifyVolume(volume uint8) error {
	p.log().Debug("volume notification", logger.Int("volume", int(volume)))
	return nil
}
