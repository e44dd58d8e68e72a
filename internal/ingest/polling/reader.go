package polling

import "github.com/sysgrow/sensorcore/pkg/sensors"

// Reader performs one hardware read of sensor and returns its raw decoded
// fields. Concrete GPIO/I2C/ADC/SPI/OneWire implementations are supplied by
// the caller; the engine itself is protocol-agnostic.
type Reader interface {
	Read(sensor sensors.Sensor) (map[string]any, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(sensor sensors.Sensor) (map[string]any, error)

func (f ReaderFunc) Read(sensor sensors.Sensor) (map[string]any, error) {
	return f(sensor)
}
