package Configuration

import (
	"BatteryMonitor6811/AnalogSensor"
	"BatteryMonitor6811/LTC6811"
	"BatteryMonitor6811/Logger"
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

type Config struct {
	Spi           SpiConfig           `yaml:"spi"`
	Chain         ChainConfig         `yaml:"chain"`
	Thermistors   ThermistorConfig    `yaml:"thermistors"`
	CurrentSensor CurrentSensorConfig `yaml:"current_sensor"`
	Modbus        ModbusConfig        `yaml:"modbus"`
	Can           CanConfig           `yaml:"can"`
	Database      DatabaseConfig      `yaml:"database"`
	Monitor       MonitorConfig       `yaml:"monitor"`
}

// ---- SPI ----

type SpiConfig struct {
	Device       string `yaml:"device"`
	ChipSelect   string `yaml:"chip_select"`
	FrequencyKHz int    `yaml:"frequency_khz"`
	Simulate     bool   `yaml:"simulate"` // Run against the in-memory chain instead of hardware
}

// ---- DAISY CHAIN ----

type ChainConfig struct {
	DeviceCount         int     `yaml:"device_count"`
	ChainOrder          []int   `yaml:"chain_order"`
	CellAdcMode         string  `yaml:"cell_adc_mode"`
	GpioAdcMode         string  `yaml:"gpio_adc_mode"`
	ReadAttempts        int     `yaml:"read_attempts"`
	OpenWireIterations  int     `yaml:"open_wire_iterations"`
	CellVoltageMin      float32 `yaml:"cell_voltage_min"`
	CellVoltageMax      float32 `yaml:"cell_voltage_max"`
	DischargeTimeout    uint8   `yaml:"discharge_timeout"` // DCTO class 0 - 15
	DieTemperatureMax   float32 `yaml:"die_temperature_max"`
	BalancingTolerance  float32 `yaml:"balancing_tolerance"`   // Discharge cells further than this above the lowest cell
	BalancingVoltageMin float32 `yaml:"balancing_voltage_min"` // Never discharge a cell below this
}

// ---- THERMISTORS ----

type ThermistorConfig struct {
	Revision       int                                 `yaml:"revision"`
	BCoefficient   float64                             `yaml:"b_coefficient"`
	TemperatureMin float32                             `yaml:"temperature_min"`
	TemperatureMax float32                             `yaml:"temperature_max"`
	Revisions      map[int][LTC6811.GpioCount]bool     `yaml:"revisions"` // GPIOs fitted with a thermistor per sense board revision
	Overrides      map[int][LTC6811.GpioCount]*float64 `yaml:"overrides"` // Per device B coefficient overrides, nil keeps the default
}

// ---- CURRENT SENSOR ----

type CurrentChannelConfig struct {
	Register    uint16  `yaml:"register"`
	SampleMin   uint16  `yaml:"sample_min"`
	SampleMax   uint16  `yaml:"sample_max"`
	Offset      float32 `yaml:"offset"`
	Sensitivity float32 `yaml:"sensitivity"`
}

type CurrentSensorConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	Fine            CurrentChannelConfig  `yaml:"fine"`
	Coarse          *CurrentChannelConfig `yaml:"coarse"` // Optional second range
	SaturationLimit float32               `yaml:"saturation_limit"`
}

// ---- MODBUS ----

type ModbusConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Port              string        `yaml:"port"`
	BaudRate          int           `yaml:"baud_rate"`
	DataBits          int           `yaml:"data_bits"`
	StopBits          int           `yaml:"stop_bits"`
	Parity            string        `yaml:"parity"`
	Timeout           time.Duration `yaml:"timeout"`
	SlaveId           uint8         `yaml:"slave_id"`
	RelayCoil         uint16        `yaml:"relay_coil"`
	ShutdownLoopInput uint16        `yaml:"shutdown_loop_input"`
	PrechargeInput    uint16        `yaml:"precharge_input"`
}

// ---- CAN ----

type CanConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
}

// ---- DATABASE ----

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	Every    int    `yaml:"every"` // Record every n cycles
}

// ---- MONITOR ----

type MonitorConfig struct {
	Period           time.Duration `yaml:"period"`
	OpenWireInterval int           `yaml:"open_wire_interval"` // Cycles between open wire tests
	SelfTestInterval int           `yaml:"self_test_interval"` // Cycles between self tests
	Balancing        bool          `yaml:"balancing"`
	ChargingCurrent  float32       `yaml:"charging_current"` // Pack current below -ChargingCurrent means charging
	LogLevel         string        `yaml:"log_level"`
}

// Default returns the configuration of a single sense board pair on the Raspberry Pi SPI0 port
func Default() *Config {
	return &Config{
		Spi: SpiConfig{
			Device:       "/dev/spidev0.0",
			ChipSelect:   "GPIO8",
			FrequencyKHz: 1000,
		},
		Chain: ChainConfig{
			DeviceCount:         2,
			CellAdcMode:         LTC6811.Adc7kHz.String(),
			GpioAdcMode:         LTC6811.Adc7kHz.String(),
			ReadAttempts:        3,
			OpenWireIterations:  2,
			CellVoltageMin:      3.0,
			CellVoltageMax:      4.2,
			DischargeTimeout:    uint8(LTC6811.DischargeTimeout30s),
			DieTemperatureMax:   80,
			BalancingTolerance:  0.01,
			BalancingVoltageMin: 3.6,
		},
		Thermistors: ThermistorConfig{
			Revision:       1,
			BCoefficient:   AnalogSensor.BCOEFFICIENT,
			TemperatureMin: -20,
			TemperatureMax: 60,
			Revisions: map[int][LTC6811.GpioCount]bool{
				1: {true, true, true, true, true},
				2: {true, true, true, true, false},
			},
		},
		CurrentSensor: CurrentSensorConfig{
			Fine:            CurrentChannelConfig{SampleMin: 100, SampleMax: 65435, Offset: 32768, Sensitivity: 0.01},
			SaturationLimit: 300,
		},
		Modbus: ModbusConfig{
			Port:              "/dev/ttyUSB0",
			BaudRate:          19200,
			DataBits:          8,
			StopBits:          2,
			Parity:            "N",
			Timeout:           500 * time.Millisecond,
			SlaveId:           1,
			RelayCoil:         0,
			ShutdownLoopInput: 0,
			PrechargeInput:    1,
		},
		Can: CanConfig{
			Interface: "can0",
		},
		Database: DatabaseConfig{
			Login:  "logger",
			Server: "localhost",
			Port:   "3306",
			Name:   "battery",
			Every:  4,
		},
		Monitor: MonitorConfig{
			Period:           250 * time.Millisecond,
			OpenWireInterval: 4,
			SelfTestInterval: 40,
			ChargingCurrent:  1,
			LogLevel:         Logger.LevelInfo.String(),
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration without changing it.
func Validate(cfg *Config) error {
	if !cfg.Spi.Simulate {
		if cfg.Spi.Device == "" {
			return fmt.Errorf("spi: device is required")
		}
		if cfg.Spi.ChipSelect == "" {
			return fmt.Errorf("spi: chip_select is required")
		}
		if cfg.Spi.FrequencyKHz <= 0 || cfg.Spi.FrequencyKHz > 1000 {
			return fmt.Errorf("spi: frequency_khz %d must be 1 - 1000", cfg.Spi.FrequencyKHz)
		}
	}

	if _, err := LTC6811.ParseAdcMode(cfg.Chain.CellAdcMode); err != nil {
		return fmt.Errorf("chain: cell_adc_mode: %w", err)
	}
	if _, err := LTC6811.ParseAdcMode(cfg.Chain.GpioAdcMode); err != nil {
		return fmt.Errorf("chain: gpio_adc_mode: %w", err)
	}
	if cfg.Chain.DieTemperatureMax <= 0 {
		return fmt.Errorf("chain: die_temperature_max must be positive")
	}
	if cfg.Chain.BalancingTolerance < 0 {
		return fmt.Errorf("chain: balancing_tolerance must not be negative")
	}

	if _, ok := cfg.Thermistors.Revisions[cfg.Thermistors.Revision]; !ok {
		return fmt.Errorf("thermistors: no GPIO mapping for revision %d", cfg.Thermistors.Revision)
	}
	if cfg.Thermistors.BCoefficient <= 0 {
		return fmt.Errorf("thermistors: b_coefficient must be positive")
	}
	if cfg.Thermistors.TemperatureMax <= cfg.Thermistors.TemperatureMin {
		return fmt.Errorf("thermistors: temperature window %.1f - %.1f is invalid", cfg.Thermistors.TemperatureMin, cfg.Thermistors.TemperatureMax)
	}
	for device := range cfg.Thermistors.Overrides {
		if device < 0 || device >= cfg.Chain.DeviceCount {
			return fmt.Errorf("thermistors: override for device %d outside the chain", device)
		}
	}

	if cfg.CurrentSensor.Enabled {
		if !cfg.Modbus.Enabled {
			return fmt.Errorf("current_sensor: requires modbus")
		}
		if err := validateChannel("fine", cfg.CurrentSensor.Fine); err != nil {
			return err
		}
		if cfg.CurrentSensor.Coarse != nil {
			if err := validateChannel("coarse", *cfg.CurrentSensor.Coarse); err != nil {
				return err
			}
			if cfg.CurrentSensor.SaturationLimit <= 0 {
				return fmt.Errorf("current_sensor: saturation_limit must be positive with a coarse channel")
			}
		}
	}

	if cfg.Modbus.Enabled {
		if cfg.Modbus.Port == "" {
			return fmt.Errorf("modbus: port is required")
		}
		if cfg.Modbus.BaudRate <= 0 {
			return fmt.Errorf("modbus: baud_rate must be positive")
		}
		switch cfg.Modbus.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("modbus: parity %q must be N, E or O", cfg.Modbus.Parity)
		}
		if cfg.Modbus.SlaveId == 0 || cfg.Modbus.SlaveId > 247 {
			return fmt.Errorf("modbus: slave_id %d must be 1 - 247", cfg.Modbus.SlaveId)
		}
	}

	if cfg.Can.Enabled && cfg.Can.Interface == "" {
		return fmt.Errorf("can: interface is required")
	}

	if cfg.Database.Enabled {
		if cfg.Database.Server == "" || cfg.Database.Name == "" {
			return fmt.Errorf("database: server and name are required")
		}
		if cfg.Database.Every < 1 {
			return fmt.Errorf("database: every must be at least 1")
		}
	}

	if cfg.Monitor.Period <= 0 {
		return fmt.Errorf("monitor: period must be positive")
	}
	if cfg.Monitor.OpenWireInterval < 1 || cfg.Monitor.SelfTestInterval < 1 {
		return fmt.Errorf("monitor: open_wire_interval and self_test_interval must be at least 1")
	}
	if _, err := Logger.ParseLevel(cfg.Monitor.LogLevel); err != nil {
		return fmt.Errorf("monitor: log_level: %w", err)
	}

	// The driver owns the rest of the chain checks
	probe := cfg.ChainConfig(probeBus{}, nil)
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	return nil
}

func validateChannel(name string, channel CurrentChannelConfig) error {
	if channel.SampleMax <= channel.SampleMin {
		return fmt.Errorf("current_sensor: %s sample window %d - %d is invalid", name, channel.SampleMin, channel.SampleMax)
	}
	if channel.Sensitivity == 0 {
		return fmt.Errorf("current_sensor: %s sensitivity must not be zero", name)
	}
	return nil
}

// ChainConfig builds the driver configuration. thermistors may be nil, nil entries leave a GPIO unused.
// GPIOs carrying a thermistor on the configured revision are sampled ratiometrically.
func (cfg *Config) ChainConfig(bus LTC6811.Bus, thermistors [][LTC6811.GpioCount]*AnalogSensor.Thermistor) LTC6811.Config {
	cellMode, _ := LTC6811.ParseAdcMode(cfg.Chain.CellAdcMode)
	gpioMode, _ := LTC6811.ParseAdcMode(cfg.Chain.GpioAdcMode)
	config := LTC6811.Config{
		Bus:                    bus,
		DeviceCount:            cfg.Chain.DeviceCount,
		ChainOrder:             cfg.Chain.ChainOrder,
		CellAdcMode:            cellMode,
		GpioAdcMode:            gpioMode,
		ReadAttemptCount:       cfg.Chain.ReadAttempts,
		OpenWireTestIterations: cfg.Chain.OpenWireIterations,
		CellVoltageMin:         cfg.Chain.CellVoltageMin,
		CellVoltageMax:         cfg.Chain.CellVoltageMax,
		DischargeTimeout:       LTC6811.DischargeTimeout(cfg.Chain.DischargeTimeout),
		GpioRatiometric:        cfg.Thermistors.Revisions[cfg.Thermistors.Revision],
	}
	if thermistors != nil {
		config.Sensors = make([][LTC6811.GpioCount]LTC6811.AnalogSensor, len(thermistors))
		for device, row := range thermistors {
			for gpio, thermistor := range row {
				if thermistor != nil {
					config.Sensors[device][gpio] = thermistor
				}
			}
		}
	}
	return config
}

// NewThermistors creates one thermistor for every fitted GPIO of every device
func (cfg *Config) NewThermistors() [][LTC6811.GpioCount]*AnalogSensor.Thermistor {
	fitted := cfg.Thermistors.Revisions[cfg.Thermistors.Revision]
	thermistors := make([][LTC6811.GpioCount]*AnalogSensor.Thermistor, cfg.Chain.DeviceCount)
	for device := range thermistors {
		overrides := cfg.Thermistors.Overrides[device]
		for gpio := range thermistors[device] {
			if !fitted[gpio] {
				continue
			}
			b := cfg.Thermistors.BCoefficient
			if overrides[gpio] != nil {
				b = *overrides[gpio]
			}
			thermistors[device][gpio] = AnalogSensor.NewThermistor(b, cfg.Thermistors.TemperatureMin, cfg.Thermistors.TemperatureMax)
		}
	}
	return thermistors
}

// Frequency of the SPI clock in Hz
func (cfg *Config) SpiFrequency() int64 {
	return int64(cfg.Spi.FrequencyKHz) * 1000
}

// Data source name for go-sql-driver/mysql
func (cfg *Config) DatabaseDSN() string {
	db := cfg.Database
	return db.Login + ":" + db.Password + "@tcp(" + db.Server + ":" + db.Port + ")/" + db.Name + "?loc=Local"
}

// probeBus satisfies LTC6811.Bus so the chain settings can be validated before the hardware is opened
type probeBus struct{}

func (probeBus) Lock()                                {}
func (probeBus) Unlock()                              {}
func (probeBus) Start() error                         { return nil }
func (probeBus) Stop() error                          { return nil }
func (probeBus) Exchange(tx, rx []byte) error         { return nil }
func (probeBus) WaitReady(timeout time.Duration) bool { return true }
