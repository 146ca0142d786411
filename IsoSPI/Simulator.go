package IsoSPI

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"BatteryMonitor6811/PEC"
)

const cellCount = 12
const gpioCount = 5
const frameSize = 8
const headerSize = 4

// Commands the simulator answers
const (
	wrcfga  = 0x001
	rdcfga  = 0x002
	rdcva   = 0x004
	rdcvb   = 0x006
	rdcvc   = 0x008
	rdcvd   = 0x00A
	rdauxa  = 0x00C
	rdauxb  = 0x00E
	rdstata = 0x010
	rdstatb = 0x012
	clrcell = 0x711
	clraux  = 0x712
	clrstat = 0x713
	pladc   = 0x714
	diagn   = 0x715
)

var ErrNotSelected = errors.New("chip select not asserted")
var ErrSelected = errors.New("chip select already asserted")
var ErrInjected = errors.New("injected transfer fault")
var ErrLength = errors.New("transmit and receive buffers differ in length")

// One simulated LTC6811. Analogue inputs are codes at 100uV per LSB.
type simDevice struct {
	cfg        [6]byte
	configured bool

	cells    [cellCount]uint16
	pullUp   [cellCount]uint16
	pullDown [cellCount]uint16
	gpio     [gpioCount]uint16
	ref      uint16
	itmp     uint16
	va       uint16
	vd       uint16
	revision uint8
	muxFail  bool
	thsd     bool

	cellReg   [cellCount]uint16
	auxReg    [gpioCount + 1]uint16
	statA     [3]uint16
	statVD    uint16
	flags     [3]byte // Cell UV/OV comparator flags, STBR2-STBR4
	muxResult bool
}

// Simulator is an in memory LTC6811 daisy chain behind an isoSPI interface. It implements the bus the
// LTC6811 driver expects. Slot 0 is the device closest to the host.
type Simulator struct {
	bus sync.Mutex // Held by the bus user for the length of a transaction
	mu  sync.Mutex

	devices []simDevice

	selected  bool
	exchanged bool
	in        []byte
	out       []byte
	command   uint16
	valid     bool

	busFaults  int
	corrupt    map[int]int
	hold       bool
	wakePulses int
	commands   []uint16
	writes     map[uint16][][]byte
}

// NewSimulator builds a chain of deviceCount devices with every cell at 3.7V, every GPIO at half scale,
// VREF2 at 3V and the die at 25C.
func NewSimulator(deviceCount int) *Simulator {
	s := &Simulator{
		devices: make([]simDevice, deviceCount),
		corrupt: make(map[int]int),
		writes:  make(map[uint16][][]byte),
	}
	for slot := range s.devices {
		d := &s.devices[slot]
		for cell := 0; cell < cellCount; cell++ {
			d.cells[cell] = voltsToCode(3.7)
		}
		d.pullUp = d.cells
		d.pullDown = d.cells
		for gpio := 0; gpio < gpioCount; gpio++ {
			d.gpio[gpio] = 15000
		}
		d.ref = 30000
		d.itmp = temperatureToCode(25)
		d.va = voltsToCode(5)
		d.vd = voltsToCode(3)
		d.revision = 1
		for i := range d.cellReg {
			d.cellReg[i] = 0xFFFF
		}
		for i := range d.auxReg {
			d.auxReg[i] = 0xFFFF
		}
		d.statA = [3]uint16{0xFFFF, 0xFFFF, 0xFFFF}
		d.statVD = 0xFFFF
	}
	return s
}

func voltsToCode(volts float32) uint16 {
	code := math.Round(float64(volts) / 0.0001)
	if code < 0 {
		return 0
	}
	if code > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(code)
}

func temperatureToCode(celsius float32) uint16 {
	return voltsToCode((celsius + 273) * 0.0075)
}

func (s *Simulator) Lock()   { s.bus.Lock() }
func (s *Simulator) Unlock() { s.bus.Unlock() }

// Start asserts chip select. A Start/Stop pair with no exchange in between is a wake pulse.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected {
		return ErrSelected
	}
	s.selected = true
	s.exchanged = false
	s.in = s.in[:0]
	s.out = nil
	s.valid = false
	return nil
}

// Stop releases chip select and commits any register group write received in the transaction.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return ErrNotSelected
	}
	s.selected = false
	if !s.exchanged {
		s.wakePulses++
		return nil
	}
	if s.valid && s.command == wrcfga {
		s.commitWrite()
	}
	return nil
}

// Exchange shifts tx out and fills rx with whatever the chain drives onto MISO.
func (s *Simulator) Exchange(tx, rx []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return ErrNotSelected
	}
	if len(tx) != len(rx) {
		return ErrLength
	}
	if s.busFaults > 0 {
		s.busFaults--
		return ErrInjected
	}
	s.exchanged = true
	for i, b := range tx {
		position := len(s.in)
		s.in = append(s.in, b)
		rx[i] = 0xFF
		if position >= headerSize && position-headerSize < len(s.out) {
			rx[i] = s.out[position-headerSize]
		}
		if len(s.in) == headerSize {
			s.decodeHeader()
		}
	}
	return nil
}

// WaitReady reports whether the last conversion has finished. It returns at once rather than waiting out
// the timeout.
func (s *Simulator) WaitReady(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected && !s.hold
}

func (s *Simulator) decodeHeader() {
	if !PEC.Check(s.in[:headerSize]) {
		return
	}
	s.valid = true
	s.command = binary.BigEndian.Uint16(s.in[:2])
	s.commands = append(s.commands, s.command)

	switch s.command {
	case rdcfga, rdcva, rdcvb, rdcvc, rdcvd, rdauxa, rdauxb, rdstata, rdstatb:
		s.out = s.readResponse(s.command)
	case wrcfga, pladc:
	default:
		for slot := range s.devices {
			s.devices[slot].execute(s.command)
		}
	}
}

// Build the response stream for a read, slot 0 first, applying any injected corruption.
func (s *Simulator) readResponse(command uint16) []byte {
	out := make([]byte, 0, len(s.devices)*frameSize)
	for slot := range s.devices {
		var frame [frameSize]byte
		s.devices[slot].registerGroup(command, frame[:6])
		PEC.Put(frame[:])
		if s.corrupt[slot] > 0 {
			s.corrupt[slot]--
			frame[0] ^= 0x01
		}
		out = append(out, frame[:]...)
	}
	return out
}

// Apply the frames of a WRCFGA transaction. The first frame on the wire belongs to the last slot.
// Frames with a bad PEC are ignored by their device.
func (s *Simulator) commitWrite() {
	payload := s.in[headerSize:]
	var frames [][]byte
	for k := 0; (k+1)*frameSize <= len(payload) && k < len(s.devices); k++ {
		frame := append([]byte(nil), payload[k*frameSize:(k+1)*frameSize]...)
		frames = append(frames, frame)
		if !PEC.Check(frame) {
			continue
		}
		d := &s.devices[len(s.devices)-1-k]
		copy(d.cfg[:], frame[:6])
		d.configured = true
	}
	s.writes[s.command] = frames
}

func (d *simDevice) registerGroup(command uint16, payload []byte) {
	put := func(words ...uint16) {
		for i, w := range words {
			binary.LittleEndian.PutUint16(payload[i*2:], w)
		}
	}
	switch command {
	case rdcfga:
		copy(payload, d.cfg[:])
	case rdcva, rdcvb, rdcvc, rdcvd:
		group := int(command-rdcva) / 2
		put(d.cellReg[group*3], d.cellReg[group*3+1], d.cellReg[group*3+2])
	case rdauxa:
		put(d.auxReg[0], d.auxReg[1], d.auxReg[2])
	case rdauxb:
		put(d.auxReg[3], d.auxReg[4], d.auxReg[5])
	case rdstata:
		put(d.statA[0], d.statA[1], d.statA[2])
	case rdstatb:
		put(d.statVD)
		copy(payload[2:5], d.flags[:])
		payload[5] = d.revision << 4
		if d.muxResult {
			payload[5] |= 0x02
		}
		if d.thsd {
			payload[5] |= 0x01
		}
	}
}

func (d *simDevice) execute(command uint16) {
	mode := (command >> 7) & 0x03
	pattern := uint16(0x9555)
	if mode == 0b01 {
		pattern = 0x9565
	}
	switch {
	case command == clrcell:
		for i := range d.cellReg {
			d.cellReg[i] = 0xFFFF
		}
	case command == clraux:
		for i := range d.auxReg {
			d.auxReg[i] = 0xFFFF
		}
	case command == clrstat:
		d.statA = [3]uint16{0xFFFF, 0xFFFF, 0xFFFF}
		d.statVD = 0xFFFF
	case command == diagn:
		d.muxResult = d.muxFail
	case command&0x668 == 0x260: // ADCV
		d.cellReg = d.cells
		d.compare()
	case command&0x628 == 0x228: // ADOW
		if command&0x40 != 0 {
			d.cellReg = d.pullUp
		} else {
			d.cellReg = d.pullDown
		}
	case command&0x61F == 0x207: // CVST
		for i := range d.cellReg {
			d.cellReg[i] = pattern
		}
	case command&0x66F == 0x201: // ADOL
		d.cellReg[6] = d.cells[6]
		d.cellReg[7] = d.cells[6]
	case command&0x678 == 0x460: // ADAX
		copy(d.auxReg[:gpioCount], d.gpio[:])
		d.auxReg[gpioCount] = d.ref
	case command&0x678 == 0x468: // ADSTAT
		var sum uint32
		for _, c := range d.cells {
			sum += uint32(c)
		}
		d.statA = [3]uint16{uint16(sum / 20), d.itmp, d.va}
		d.statVD = d.vd
	case command&0x61F == 0x407: // AXST
		for i := range d.auxReg {
			d.auxReg[i] = pattern
		}
	case command&0x61F == 0x40F: // STATST
		d.statA = [3]uint16{pattern, pattern, pattern}
		d.statVD = pattern
	}
}

// Update the comparator flags from the last cell conversion and the configured thresholds
func (d *simDevice) compare() {
	d.flags = [3]byte{}
	if !d.configured {
		return
	}
	vuv := uint32(d.cfg[1]) | uint32(d.cfg[2]&0x0F)<<8
	vov := uint32(d.cfg[2]>>4) | uint32(d.cfg[3])<<4
	for cell, code := range d.cellReg {
		shift := uint((cell % 4) * 2)
		if uint32(code) < (vuv+1)*16 {
			d.flags[cell/4] |= 0x01 << shift
		}
		if uint32(code) > vov*16 {
			d.flags[cell/4] |= 0x02 << shift
		}
	}
}

func (s *Simulator) SetCellVoltages(slot int, volts [cellCount]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.devices[slot]
	for cell, v := range volts {
		d.cells[cell] = voltsToCode(v)
	}
	d.pullUp = d.cells
	d.pullDown = d.cells
}

// SetOpenWireVoltages sets what the cell inputs read under the ADOW pull up and pull down currents.
func (s *Simulator) SetOpenWireVoltages(slot int, pullUp, pullDown [cellCount]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.devices[slot]
	for cell := 0; cell < cellCount; cell++ {
		d.pullUp[cell] = voltsToCode(pullUp[cell])
		d.pullDown[cell] = voltsToCode(pullDown[cell])
	}
}

func (s *Simulator) SetGpio(slot int, codes [gpioCount]uint16, ref uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[slot].gpio = codes
	s.devices[slot].ref = ref
}

func (s *Simulator) SetDieTemperature(slot int, celsius float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[slot].itmp = temperatureToCode(celsius)
}

func (s *Simulator) SetMuxFail(slot int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[slot].muxFail = fail
}

func (s *Simulator) SetThermalShutdown(slot int, thsd bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[slot].thsd = thsd
}

// CorruptReads flips a payload bit in the slot's frame on its next n read transactions.
func (s *Simulator) CorruptReads(slot int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[slot] = n
}

// FailExchanges makes the next n exchanges return ErrInjected.
func (s *Simulator) FailExchanges(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busFaults = n
}

// HoldConversions keeps MISO low so conversions never report completion.
func (s *Simulator) HoldConversions(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = hold
}

// Configuration returns the configuration register group the slot last accepted.
func (s *Simulator) Configuration(slot int) [6]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[slot].cfg
}

func (s *Simulator) WakePulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakePulses
}

// Commands returns every valid command received, oldest first.
func (s *Simulator) Commands() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.commands...)
}

// WriteFrames returns the frames of the most recent write with the given command, in the order they
// appeared on the wire.
func (s *Simulator) WriteFrames(command uint16) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[command]
}

// Selected reports whether chip select is asserted.
func (s *Simulator) Selected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Reset clears the recorded commands, writes and wake pulses.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
	s.wakePulses = 0
	s.writes = make(map[uint16][][]byte)
}
