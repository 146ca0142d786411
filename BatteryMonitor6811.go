package main

import (
	"BatteryMonitor6811/AnalogSensor"
	"BatteryMonitor6811/Configuration"
	"BatteryMonitor6811/DataLogger"
	"BatteryMonitor6811/IsoSPI"
	"BatteryMonitor6811/LTC6811"
	"BatteryMonitor6811/Logger"
	"BatteryMonitor6811/ModbusController"
	"BatteryMonitor6811/Monitor"
	"context"
	"flag"
	"fmt"
	"github.com/brutella/can"
	"log"
	"log/syslog"
	"os"
	"os/signal"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
	"syscall"
)

var (
	configPath *string
	verbose    *bool
	simulate   *bool
)

// Open the isoSPI port, or a simulated chain when there is no hardware
func openBus(cfg *Configuration.Config, logger *Logger.Logger) (LTC6811.Bus, func(), error) {
	if cfg.Spi.Simulate {
		logger.Infof("Using a simulated chain of %d devices", cfg.Chain.DeviceCount)
		return IsoSPI.NewSimulator(cfg.Chain.DeviceCount), func() {}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	port, err := IsoSPI.Open(cfg.Spi.Device, cfg.Spi.ChipSelect, physic.Frequency(cfg.SpiFrequency())*physic.Hertz)
	if err != nil {
		return nil, nil, err
	}
	return port, func() {
		if err := port.Close(); err != nil {
			logger.Warnf("close SPI port - %v", err)
		}
	}, nil
}

// Connect to the Modbus I/O module carrying the fault relay, the status inputs and the current sensor
func connectModbus(cfg *Configuration.Config, monitorConfig *Monitor.Config, logger *Logger.Logger) (func(), error) {
	mb := cfg.Modbus
	controller := ModbusController.New(mb.Port, mb.BaudRate, mb.DataBits, mb.StopBits, mb.Parity, mb.Timeout)
	if err := controller.Connect(); err != nil {
		return nil, fmt.Errorf("modbus %s - %w", mb.Port, err)
	}
	logger.Infof("Connected to Modbus slave %d on %s", mb.SlaveId, mb.Port)

	relay := ModbusController.NewFaultRelay(controller, mb.SlaveId, mb.RelayCoil, mb.ShutdownLoopInput, mb.PrechargeInput, cfg.CurrentSensor.Fine.Register)
	monitorConfig.FaultOutput = relay
	monitorConfig.Inputs = relay

	if cfg.CurrentSensor.Enabled {
		fine := cfg.CurrentSensor.Fine
		fineSensor := AnalogSensor.NewLinearSensor(fine.SampleMin, fine.SampleMax, fine.Offset, fine.Sensitivity)
		monitorConfig.CurrentChannels = []Monitor.CurrentChannel{{Source: relay, Sensor: fineSensor}}
		monitorConfig.Current = fineSensor
		if coarse := cfg.CurrentSensor.Coarse; coarse != nil {
			coarseSensor := AnalogSensor.NewLinearSensor(coarse.SampleMin, coarse.SampleMax, coarse.Offset, coarse.Sensitivity)
			monitorConfig.CurrentChannels = append(monitorConfig.CurrentChannels, Monitor.CurrentChannel{
				Source: ModbusController.NewInputRegister(controller, coarse.Register, mb.SlaveId),
				Sensor: coarseSensor,
			})
			monitorConfig.Current = &AnalogSensor.DualRangeSensor{Fine: fineSensor, Coarse: coarseSensor, SaturationLimit: cfg.CurrentSensor.SaturationLimit}
		}
	}
	return func() {
		// Leave the shutdown loop open on the way out
		if err := relay.SetFault(true); err != nil {
			logger.Warnf("open shutdown loop - %v", err)
		}
		controller.Close()
	}, nil
}

func mainImpl() error {
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected arguments %v", flag.Args())
	}

	cfg, err := Configuration.Load(*configPath)
	if err != nil {
		return err
	}
	if *simulate {
		cfg.Spi.Simulate = true
	}
	level, _ := Logger.ParseLevel(cfg.Monitor.LogLevel)
	if *verbose {
		level = Logger.LevelDebug
	}
	logger := Logger.New(log.Default(), level)

	bus, closeBus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	thermistors := cfg.NewThermistors()
	chain, err := LTC6811.Init(cfg.ChainConfig(bus, thermistors))
	if err != nil {
		return err
	}
	logger.Infof("Initialised %d LTC6811 devices", chain.DeviceCount())

	monitorConfig := Monitor.Config{
		Chain:               chain,
		Thermistors:         thermistors,
		Logger:              logger,
		Period:              cfg.Monitor.Period,
		OpenWireInterval:    cfg.Monitor.OpenWireInterval,
		SelfTestInterval:    cfg.Monitor.SelfTestInterval,
		RecordEvery:         cfg.Database.Every,
		Balancing:           cfg.Monitor.Balancing,
		BalancingTolerance:  cfg.Chain.BalancingTolerance,
		BalancingVoltageMin: cfg.Chain.BalancingVoltageMin,
		DieTemperatureMax:   cfg.Chain.DieTemperatureMax,
		ChargingCurrent:     cfg.Monitor.ChargingCurrent,
	}

	if cfg.Modbus.Enabled {
		closeModbus, err := connectModbus(cfg, &monitorConfig, logger)
		if err != nil {
			return err
		}
		defer closeModbus()
	}

	if cfg.Can.Enabled {
		canBus, err := can.NewBusForInterfaceWithName(cfg.Can.Interface)
		if err != nil {
			return fmt.Errorf("CAN interface %s - %w", cfg.Can.Interface, err)
		}
		go func() {
			if err := canBus.ConnectAndPublish(); err != nil {
				logger.Errorf("ConnectAndPublish failed - %v", err)
			}
		}()
		defer func() {
			if err := canBus.Disconnect(); err != nil {
				logger.Warnf("disconnect CAN - %v", err)
			}
		}()
		monitorConfig.Publisher = canBus
		logger.Infof("Publishing on CAN interface %s", cfg.Can.Interface)
	}

	if cfg.Database.Enabled {
		dataLogger, err := DataLogger.Open(cfg.DatabaseDSN())
		if err != nil {
			return err
		}
		defer func() {
			if err := dataLogger.Close(); err != nil {
				logger.Warnf("close database - %v", err)
			}
		}()
		monitorConfig.Recorder = dataLogger
		logger.Infof("Logging to database %s on %s", cfg.Database.Name, cfg.Database.Server)
	}

	monitor, err := Monitor.New(monitorConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Infof("Monitoring every %v", cfg.Monitor.Period)
	if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Infof("Shutting down")
	return nil
}

func main() {
	logwriter, e := syslog.New(syslog.LOG_NOTICE, "BatteryMonitor")
	if e == nil {
		log.SetOutput(logwriter)
	} else {
		fmt.Println(e)
	}
	configPath = flag.String("c", "/etc/bms/bms.yaml", "configuration file")
	verbose = flag.Bool("v", false, "verbose mode")
	simulate = flag.Bool("simulate", false, "run against a simulated daisy chain")

	if err := mainImpl(); err != nil {
		_, eFmt := fmt.Fprintf(os.Stderr, "BatteryMonitor6811 Error: %s.\n", err)
		if eFmt != nil {
			log.Println(eFmt)
		}
		os.Exit(1)
	}
}
