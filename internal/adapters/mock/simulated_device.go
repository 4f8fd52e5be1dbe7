package mock

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// StartSimulatedDevice runs a device loop over an in-memory pipe and returns
// the host end, which behaves like the meter's serial port.
// The device stops when ctx is cancelled or the returned conn is closed.
func StartSimulatedDevice(ctx context.Context, sensor ports.LuminositySensor, config ports.DeviceConfig) net.Conn {
	host, device := net.Pipe()

	go func() {
		defer device.Close()

		go func() {
			<-ctx.Done()
			device.Close()
		}()

		err := ports.NewDevice(sensor, device, config).Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("simulated device stopped")
		}
	}()

	return host
}
