package DataLogger

import (
	"BatteryMonitor6811/LTC6811"
	"database/sql"
	"fmt"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/multierr"
	"log"
	"math"
)

const insertSQL = `insert into ltc6811 (device, state
                                       ,cell_01,cell_02,cell_03,cell_04,cell_05,cell_06
                                       ,cell_07,cell_08,cell_09,cell_10,cell_11,cell_12
                                       ,cell_sum, die_temperature, open_wire)
                               values (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// DataLogger writes one row per device for every recorded cycle
type DataLogger struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open connects to the MySQL server named by dsn and prepares the insert statement.
func Open(dsn string) (*DataLogger, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	dataLogger, err := New(db)
	if err != nil {
		errClose := db.Close()
		if errClose != nil {
			log.Println(errClose)
		}
		return nil, err
	}
	return dataLogger, nil
}

// New prepares the insert statement on an open database
func New(db *sql.DB) (*DataLogger, error) {
	insert, err := db.Prepare(insertSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare insert - %w", err)
	}
	return &DataLogger{db: db, insert: insert}, nil
}

// Record inserts a row for every device. Rows that fail do not stop the others, all errors are returned together.
func (dataLogger *DataLogger) Record(devices []LTC6811.Device) error {
	var err error
	for index, device := range devices {
		if _, e := dataLogger.insert.Exec(rowValues(index, device)...); e != nil {
			err = multierr.Append(err, fmt.Errorf("device %d - %w", index, e))
		}
	}
	return err
}

func (dataLogger *DataLogger) Close() error {
	return multierr.Combine(dataLogger.insert.Close(), dataLogger.db.Close())
}

// Cell voltages are stored as 100uV codes, the sum in mV and the die temperature in tenths of a degree.
func rowValues(index int, device LTC6811.Device) []interface{} {
	values := make([]interface{}, 0, 17)
	values = append(values, index, device.State.String())
	for _, volts := range device.CellVoltages {
		values = append(values, cellCode(volts))
	}
	var openWire uint16
	for line, open := range device.OpenWireFaults {
		if open {
			openWire |= 1 << line
		}
	}
	values = append(values,
		uint32(math.Round(float64(device.CellVoltageSum)*1000)),
		int32(math.Round(float64(device.DieTemperature)*10)),
		openWire)
	return values
}

func cellCode(volts float32) uint16 {
	code := math.Round(float64(volts) * 10000)
	if code < 0 {
		return 0
	}
	if code > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(code)
}
