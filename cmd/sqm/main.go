// sqm takes sky quality readings from a meter on a serial port or through a gateway
//
// Usage example: sqm -port /dev/ttyUSB0 -count 5 -interval 10s
//
// Flags:
//
//	-list: print the available serial ports and exit
//	-port: serial port of the meter
//	-gateway: gateway gRPC address, used instead of -port (e.g. localhost:50051)
//	-count: number of readings to take, 0 reads until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	grpcAdapter "github.com/quentinrf/sky-quality-meter/internal/adapters/grpc"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/serialport"
	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/pkg/tlsconfig"
)

// serialPollTimeout bounds each serial read; -timeout bounds the whole answer
const serialPollTimeout = 100 * time.Millisecond

func endWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
	flag.Usage()
	os.Exit(1)
}

// source yields the raw response line and its parsed reading
type source interface {
	Take(ctx context.Context) (string, domain.Reading, error)
	Close() error
}

func main() {
	ctx, finish := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer finish()

	defaults := serialport.DefaultMeterConfig()

	list := flag.Bool("list", false, "print available serial ports and exit")
	portName := flag.String("port", "", "serial port of the meter")
	baud := flag.Int("baud", serialport.DefaultBaudRate, "serial baud rate")
	timeout := flag.Duration("timeout", defaults.ReadTimeout, "how long to wait for each answer")
	resetDelay := flag.Duration("reset-delay", defaults.ResetDelay, "wait after opening the port for the board to reset")
	count := flag.Int("count", 1, "number of readings, 0 for continuous")
	interval := flag.Duration("interval", 5*time.Second, "delay between readings")
	gateway := flag.String("gateway", "", "gateway gRPC address, instead of -port")
	tlsCA := flag.String("tls-ca", "", "CA certificate for the gateway")
	tlsCert := flag.String("tls-cert", "", "client certificate for the gateway (mTLS)")
	tlsKey := flag.String("tls-key", "", "client private key for the gateway (mTLS)")
	serverName := flag.String("server-name", "", "expected gateway certificate name")
	verbose := flag.Bool("v", false, "debug logging")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *list {
		names, err := serialport.ListPorts()
		if err != nil {
			endWithError(err)
		}
		if len(names) == 0 {
			fmt.Println("no serial ports found")
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	if *count < 0 {
		endWithError(errors.New("count cannot be negative"))
	}
	if *interval <= 0 {
		endWithError(errors.New("interval must be positive"))
	}

	var (
		src source
		err error
	)
	switch {
	case *gateway != "":
		files := tlsconfig.Files{Cert: *tlsCert, Key: *tlsKey, CA: *tlsCA}
		src, err = dialGateway(*gateway, files, *serverName)
	case *portName != "":
		src, err = openSerial(ctx, serialport.Config{
			Name:        *portName,
			BaudRate:    *baud,
			ReadTimeout: serialPollTimeout,
		}, serialport.MeterConfig{
			ReadTimeout: *timeout,
			ResetDelay:  *resetDelay,
		})
	default:
		endWithError(errors.New("either -port or -gateway is required"))
	}
	if err != nil {
		endWithError(err)
	}
	defer src.Close()

	for i := 0; *count == 0 || i < *count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*interval):
			}
		}

		line, reading, err := src.Take(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading failed: %v\n", err)
			continue
		}

		printReading(line, reading)
	}
}

func printReading(line string, r domain.Reading) {
	if !r.Valid() {
		fmt.Printf("%s\tLux: %.5f  SQM: NaN (too dark or sensor fault)\n", line, r.Lux)
		return
	}

	m := domain.Measurement{Lux: r.Lux, SQM: r.SQM}
	fmt.Printf("%s\tLux: %.5f  SQM: %.2f mag/arcsec²  Bortle %d (%s)\n",
		line, r.Lux, r.SQM, m.Bortle(), m.SkyCategory())
}

// serialSource reads a meter attached to a local serial port
type serialSource struct {
	meter *serialport.Meter
}

func openSerial(ctx context.Context, portConfig serialport.Config, meterConfig serialport.MeterConfig) (*serialSource, error) {
	port, err := serialport.Open(portConfig)
	if err != nil {
		return nil, err
	}

	meter := serialport.NewMeter(port, meterConfig)
	if err := meter.Connect(ctx); err != nil {
		meter.Close()
		return nil, err
	}

	return &serialSource{meter: meter}, nil
}

func (s *serialSource) Take(ctx context.Context) (string, domain.Reading, error) {
	line, err := s.meter.RequestLine(ctx)
	if err != nil {
		return "", domain.Reading{}, err
	}

	reading, err := domain.ParseLine(line)
	if err != nil {
		return line, domain.Reading{}, err
	}
	return line, reading, nil
}

func (s *serialSource) Close() error {
	return s.meter.Close()
}

// gatewaySource asks a gateway to take readings
type gatewaySource struct {
	client *grpcAdapter.Client
}

func dialGateway(addr string, files tlsconfig.Files, serverName string) (*gatewaySource, error) {
	creds := insecure.NewCredentials()
	if files.Enabled() {
		cfg, err := files.Client(serverName)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(cfg)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &gatewaySource{client: grpcAdapter.NewClient(conn)}, nil
}

func (s *gatewaySource) Take(ctx context.Context) (string, domain.Reading, error) {
	m, err := s.client.TakeReading(ctx)
	if err != nil {
		return "", domain.Reading{}, err
	}
	reading := m.Reading()
	return reading.Line(), reading, nil
}

func (s *gatewaySource) Close() error {
	return s.client.Close()
}
