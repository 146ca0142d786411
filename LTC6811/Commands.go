package LTC6811

import "time"

const CellCount = 12      // Cell inputs per device
const GpioCount = 5       // GPIO (auxiliary) inputs per device
const SenseLineCount = 13 // Cell inputs plus the boundary line below cell 1
const BufferSize = 8      // Register group payload plus PEC
const PayloadSize = 6     // Register group payload
const commandSize = 4     // Command word plus PEC

// Register group commands
const WRCFGA = 0x001  // Write Configuration Register Group A
const RDCFGA = 0x002  // Read Configuration Register Group A
const RDCVA = 0x004   // Read Cell Voltage Register Group A
const RDCVB = 0x006   // Read Cell Voltage Register Group B
const RDCVC = 0x008   // Read Cell Voltage Register Group C
const RDCVD = 0x00A   // Read Cell Voltage Register Group D
const RDAUXA = 0x00C  // Read Auxiliary Register Group A
const RDAUXB = 0x00E  // Read Auxiliary Register Group B
const RDSTATA = 0x010 // Read Status Register Group A
const RDSTATB = 0x012 // Read Status Register Group B

// Action commands
const CLRCELL = 0x711 // Clear Cell Voltage Register Groups
const CLRAUX = 0x712  // Clear Auxiliary Register Groups
const CLRSTAT = 0x713 // Clear Status Register Groups
const PLADC = 0x714   // Poll ADC Conversion Status
const DIAGN = 0x715   // Diagnose MUX and Poll Status

// Conversion command bases. Mode, channel and option bits are or'ed in by the builders below.
const adcvBase = 0x260   // Start Cell Voltage ADC Conversion and Poll Status
const adowBase = 0x228   // Start Open Wire ADC Conversion and Poll Status
const cvstBase = 0x207   // Start Self Test Cell Voltage Conversion and Poll Status
const adolBase = 0x201   // Start Overlap Measurement of Cell 7 Voltage
const adaxBase = 0x460   // Start GPIOs ADC Conversion and Poll Status
const adstatBase = 0x468 // Start Status Group ADC Conversion and Poll Status
const axstBase = 0x407   // Start Self Test GPIOs Conversion and Poll Status
const statstBase = 0x40F // Start Self Test Status Group Conversion and Poll Status

const CH_ALL = 0   // All cells
const CHG_ALL = 0  // GPIO 1-5, 2nd Reference
const CHST_ALL = 0 // SC, ITMP, VA, VD

const ST_1 = 1 // Self test 1
const ST_2 = 2 // Self test 2

// ADCV command word. dcp permits discharge during the conversion.
func ADCV(mode AdcMode, dcp bool, ch uint16) uint16 {
	return adcvBase | mode.bits() | boolBit(dcp, 4) | (ch & 0x07)
}

// ADOW command word. pullUp selects the pull up current, otherwise the pull down current is used.
func ADOW(mode AdcMode, pullUp bool, dcp bool, ch uint16) uint16 {
	return adowBase | mode.bits() | boolBit(pullUp, 6) | boolBit(dcp, 4) | (ch & 0x07)
}

func CVST(mode AdcMode, st uint16) uint16 {
	return cvstBase | mode.bits() | (st&0x03)<<5
}

func ADOL(mode AdcMode, dcp bool) uint16 {
	return adolBase | mode.bits() | boolBit(dcp, 4)
}

func ADAX(mode AdcMode, chg uint16) uint16 {
	return adaxBase | mode.bits() | (chg & 0x07)
}

func ADSTAT(mode AdcMode, chst uint16) uint16 {
	return adstatBase | mode.bits() | (chst & 0x07)
}

func AXST(mode AdcMode, st uint16) uint16 {
	return axstBase | mode.bits() | (st&0x03)<<5
}

func STATST(mode AdcMode, st uint16) uint16 {
	return statstBase | mode.bits() | (st&0x03)<<5
}

// SelfTestPattern returns the value every result register holds after a self test 1 conversion in the given mode.
func SelfTestPattern(mode AdcMode) uint16 {
	if mode == Adc27kHz {
		return 0x9565
	}
	return 0x9555
}

func boolBit(b bool, shift uint) uint16 {
	if b {
		return 1 << shift
	}
	return 0
}

// Wake timing, see "Waking a Daisy Chain - Method 2"
const wakePulse = 400 * time.Microsecond  // tWAKE max
const readySettle = 10 * time.Microsecond // tREADY max

// Conversion kinds used to select a completion timeout
type conversion int

const (
	cellConversion conversion = iota
	gpioConversion
	statusConversion
	diagnoseConversion
)

// Worst case conversion times, ADCOPT = 0, all channels
var conversionTimes = map[conversion][4]time.Duration{
	// 422Hz, 27kHz, 7kHz, 26Hz
	cellConversion:     {12807 * time.Microsecond, 1113 * time.Microsecond, 2335 * time.Microsecond, 201317 * time.Microsecond},
	gpioConversion:     {20788 * time.Microsecond, 1825 * time.Microsecond, 3833 * time.Microsecond, 335059 * time.Microsecond},
	statusConversion:   {8537 * time.Microsecond, 748 * time.Microsecond, 1563 * time.Microsecond, 134107 * time.Microsecond},
	diagnoseConversion: {4000 * time.Microsecond, 4000 * time.Microsecond, 4000 * time.Microsecond, 4000 * time.Microsecond},
}

// Time to wait for a conversion to finish before declaring a timeout.
func conversionTimeout(kind conversion, mode AdcMode) time.Duration {
	t := conversionTimes[kind][mode&0x03]
	return 2*t + time.Millisecond
}
