package IsoSPI

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

const SPIBITSPERWORD = 8

// How often MISO is sampled while waiting for a conversion
const pollInterval = 100 * time.Microsecond

// Port drives an LTC6820 isoSPI interface through a periph.io SPI port. Chip select is a plain GPIO so it
// can be held across several transfers and pulsed to wake the chain.
type Port struct {
	mu     sync.Mutex
	closer spi.PortCloser
	conn   spi.Conn
	cs     gpio.PinOut
}

// Open the named SPI port (e.g. "/dev/spidev0.0" or "SPI0.0") with chip select on the named GPIO.
// host.Init must have been called.
func Open(spiDevice string, csPin string, frequency physic.Frequency) (*Port, error) {
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("chip select pin %s not found", csPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("chip select pin %s - %v", csPin, err)
	}
	closer, err := spireg.Open(spiDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI device %s - %v", spiDevice, err)
	}
	conn, err := closer.Connect(frequency, spi.Mode0|spi.NoCS, SPIBITSPERWORD)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to connect to SPI device %s - %v", spiDevice, err)
	}
	return NewPort(conn, cs, closer), nil
}

// NewPort wraps an already connected SPI conn. closer may be nil.
func NewPort(conn spi.Conn, cs gpio.PinOut, closer spi.PortCloser) *Port {
	return &Port{conn: conn, cs: cs, closer: closer}
}

func (p *Port) Lock()   { p.mu.Lock() }
func (p *Port) Unlock() { p.mu.Unlock() }

func (p *Port) Start() error {
	return p.cs.Out(gpio.Low)
}

func (p *Port) Stop() error {
	return p.cs.Out(gpio.High)
}

func (p *Port) Exchange(tx, rx []byte) error {
	return p.conn.Tx(tx, rx)
}

// WaitReady clocks single bytes until the chain stops holding MISO low or the timeout expires.
func (p *Port) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	w := []byte{0xFF}
	r := []byte{0x00}
	for {
		if err := p.conn.Tx(w, r); err == nil && r[0] == 0xFF {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

func (p *Port) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
