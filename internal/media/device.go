package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

var (
	ErrDeviceNotLoaded      = errors.New("device not loaded with router capabilities")
	ErrDeviceAlreadyLoaded  = errors.New("device already loaded")
	ErrEmptyRTPCapabilities = errors.New("router capabilities carry no codecs")
)

// Device holds the negotiated media capabilities for one session. It must be
// loaded with the router's RTP capabilities before any transport exists.
type Device struct {
	mu     sync.Mutex
	caps   webrtc.RTPCapabilities
	loaded bool
}

func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Load(routerCaps webrtc.RTPCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return ErrDeviceAlreadyLoaded
	}
	if len(routerCaps.Codecs) == 0 {
		return ErrEmptyRTPCapabilities
	}

	d.caps = routerCaps
	d.loaded = true

	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.loaded
}

func (d *Device) RTPCapabilities() webrtc.RTPCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.caps
}
