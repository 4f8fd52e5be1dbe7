package domain

import "errors"

var (
	// ErrSensorNotFound indicates the light sensor did not answer at startup
	ErrSensorNotFound = errors.New("TSL2591 not found")

	// ErrHalted indicates the device stopped after a failed initialization
	ErrHalted = errors.New("device halted")

	// ErrNotStarted indicates the device loop was polled before Start
	ErrNotStarted = errors.New("device not started")

	// ErrInvalidLux indicates a lux value that cannot be stored
	ErrInvalidLux = errors.New("lux value cannot be negative")

	// ErrMalformedLine indicates a response line that is not LUX:<v>,SQM:<v>
	ErrMalformedLine = errors.New("malformed response line")

	// ErrNoData indicates the meter did not answer before the read timeout
	ErrNoData = errors.New("no data received")

	// ErrReadingNotFound indicates requested measurement doesn't exist
	ErrReadingNotFound = errors.New("reading not found")
)
