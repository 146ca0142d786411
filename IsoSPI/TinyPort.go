package IsoSPI

import (
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// TinyPort drives the chain through a TinyGo drivers.SPI bus. ChipSelect sets the chip select line level.
type TinyPort struct {
	mu         sync.Mutex
	bus        drivers.SPI
	ChipSelect func(high bool)
}

func NewTinyPort(bus drivers.SPI, chipSelect func(high bool)) *TinyPort {
	chipSelect(true)
	return &TinyPort{bus: bus, ChipSelect: chipSelect}
}

func (t *TinyPort) Lock()   { t.mu.Lock() }
func (t *TinyPort) Unlock() { t.mu.Unlock() }

func (t *TinyPort) Start() error {
	t.ChipSelect(false)
	return nil
}

func (t *TinyPort) Stop() error {
	t.ChipSelect(true)
	return nil
}

func (t *TinyPort) Exchange(tx, rx []byte) error {
	return t.bus.Tx(tx, rx)
}

// WaitReady polls MISO a byte at a time until it reads high.
func (t *TinyPort) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b, err := t.bus.Transfer(0xFF); err == nil && b == 0xFF {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
