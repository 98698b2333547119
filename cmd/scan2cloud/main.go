package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/scan2cloud/internal/config"
	"github.com/banshee-data/scan2cloud/internal/lidar/admin"
	"github.com/banshee-data/scan2cloud/internal/lidar/cloudstream"
	"github.com/banshee-data/scan2cloud/internal/lidar/dispatch"
	"github.com/banshee-data/scan2cloud/internal/lidar/gate"
	"github.com/banshee-data/scan2cloud/internal/lidar/network"
	"github.com/banshee-data/scan2cloud/internal/lidar/projector"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
	"github.com/banshee-data/scan2cloud/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
	pcapFile     = flag.String("pcap", "", "Replay scans and transforms from a pcap/pcapng file instead of listening on UDP")
	pcapRealtime = flag.Bool("pcap-realtime", false, "Pace PCAP replay by capture timestamps")
	pcapSpeed    = flag.Float64("pcap-speed", 1.0, "Realtime replay speed multiplier")
	serialPort   = flag.String("serial", "", "Read JSON-line scans from this serial device (overrides serial_port)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("scan2cloud: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path (or the built-in defaults) and applies
// SCAN2CLOUD_* overrides from the environment.
func loadConfig(path string) (*config.ConverterConfig, error) {
	cfg := config.EmptyConverterConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConverterConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline is the assembled converter: transform buffer, gate, projector
// and dispatcher plus the sinks clouds are published to.
type pipeline struct {
	buffer     *tf.Buffer
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	forwarder  *network.CloudForwarder
	stream     *cloudstream.Server
}

func newPipeline(cfg *config.ConverterConfig, clock timeutil.Clock) (*pipeline, error) {
	buffer := tf.NewBuffer(cfg.GetCacheDuration(), clock)
	statics, err := cfg.StaticTransformList()
	if err != nil {
		return nil, err
	}
	for _, st := range statics {
		if err := buffer.SetStatic(st); err != nil {
			return nil, fmt.Errorf("static transform %s: %w", st, err)
		}
		log.Printf("Static transform %s", st)
	}

	p := &pipeline{buffer: buffer}
	p.gate = gate.New(cfg.GateConfig(), buffer, clock)
	proj := projector.New(buffer, cfg.GetTargetFrame())
	p.dispatcher = dispatch.New(dispatch.Config{
		BufferDepth:      cfg.GetBufferDepth(),
		StatsLogInterval: cfg.GetStatsInterval(),
		Clock:            clock,
	}, p.gate, proj)

	if addr := cfg.GetCloudForward(); addr != "" {
		stats := network.NewPacketStats("Forward", clock)
		p.forwarder, err = network.NewCloudForwarder(addr, cfg.GetForwardQueue(), stats, cfg.GetStatsInterval())
		if err != nil {
			return nil, err
		}
		p.dispatcher.AddSink(p.forwarder)
	}
	if cfg.GetGRPCListen() != "" {
		p.stream = cloudstream.NewServer()
		p.dispatcher.AddSink(p.stream)
	}
	return p, nil
}

func (p *pipeline) adminRoutes() admin.Routes {
	rt := admin.Routes{Dispatch: p.dispatcher, Gate: p.gate, Transforms: p.buffer}
	if p.stream != nil {
		rt.Stream = p.stream
	}
	return rt
}

// portOf returns the numeric port of a host:port listen address.
func portOf(addr string) (uint16, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return uint16(n), nil
}

// replayRoutes maps the configured listen ports to their handlers so a
// capture of live traffic replays through the same paths.
func replayRoutes(cfg *config.ConverterConfig, scans, transforms network.PayloadHandler) (map[uint16]network.PayloadHandler, error) {
	scanPort, err := portOf(cfg.GetScanListen())
	if err != nil {
		return nil, fmt.Errorf("scan_listen: %w", err)
	}
	tfPort, err := portOf(cfg.GetTransformListen())
	if err != nil {
		return nil, fmt.Errorf("transform_listen: %w", err)
	}
	return map[uint16]network.PayloadHandler{scanPort: scans, tfPort: transforms}, nil
}

// replayCapture feeds a capture through the pipeline, then waits until the
// scans still queued at end of file have been converted or dropped.
func replayCapture(ctx context.Context, p *pipeline, cfg *config.ConverterConfig, path string, rc network.ReplayConfig) error {
	if err := network.ReadPCAPFile(ctx, path, rc); err != nil {
		return err
	}
	// Each outstanding scan may wait out the timeout and one backoff.
	budget := time.Duration(cfg.GetBufferDepth()+1) * (cfg.GetWaitTimeout() + cfg.GetLookupErrorBackoff())
	drainCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	if err := p.dispatcher.WaitIdle(drainCtx); err != nil {
		return fmt.Errorf("draining %d queued scans after replay: %w", p.dispatcher.Pending(), err)
	}
	return nil
}

func run(ctx context.Context, cfg *config.ConverterConfig) error {
	clock := timeutil.RealClock{}
	p, err := newPipeline(cfg, clock)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scans := network.ScanHandler{Submitter: p.dispatcher}
	transforms := network.TransformHandler{Store: p.buffer}

	var wg sync.WaitGroup
	goRoutine := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s error: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	goRoutine("Dispatcher", func() error { return p.dispatcher.Run(ctx) })

	if p.forwarder != nil {
		p.forwarder.Start(ctx)
		defer p.forwarder.Close()
	}

	if p.stream != nil {
		lis, err := net.Listen("tcp", cfg.GetGRPCListen())
		if err != nil {
			return fmt.Errorf("failed to listen for cloud stream: %w", err)
		}
		goRoutine("Cloud stream", func() error { return p.stream.Serve(lis) })
		go func() {
			<-ctx.Done()
			p.stream.Stop()
		}()
	}

	switch {
	case *pcapFile != "":
		routes, err := replayRoutes(cfg, scans, transforms)
		if err != nil {
			return err
		}
		goRoutine("PCAP replay", func() error {
			// Replay ends the process once the capture is exhausted.
			defer cancel()
			return replayCapture(ctx, p, cfg, *pcapFile, network.ReplayConfig{
				Routes:          routes,
				Realtime:        *pcapRealtime,
				SpeedMultiplier: *pcapSpeed,
				Stats:           network.NewPacketStats("PCAP", clock),
				Clock:           clock,
			})
		})
	default:
		if port := cfg.GetSerialPort(); port != "" {
			stats := network.NewPacketStats("Serial", clock)
			goRoutine("Serial source", func() error {
				return network.RunSerialSource(ctx, port, cfg.GetSerialOptions(), network.JSONScanHandler{Submitter: p.dispatcher}, stats)
			})
		} else {
			scanListener := network.NewUDPListener(network.UDPListenerConfig{
				Name:        "scans",
				Address:     cfg.GetScanListen(),
				RcvBuf:      cfg.GetRcvBuf(),
				LogInterval: cfg.GetStatsInterval(),
				Stats:       network.NewPacketStats("Scan", clock),
				Handler:     scans,
			})
			goRoutine("Scan listener", func() error { return scanListener.Start(ctx) })
		}

		tfListener := network.NewUDPListener(network.UDPListenerConfig{
			Name:        "transforms",
			Address:     cfg.GetTransformListen(),
			RcvBuf:      cfg.GetRcvBuf(),
			LogInterval: cfg.GetStatsInterval(),
			Stats:       network.NewPacketStats("Transform", clock),
			Handler:     transforms,
		})
		goRoutine("Transform listener", func() error { return tfListener.Start(ctx) })
	}

	if addr := cfg.GetAdminListen(); addr != "" {
		mux := http.NewServeMux()
		p.adminRoutes().AttachAdminRoutes(mux)
		server := &http.Server{Addr: addr, Handler: mux}

		goRoutine("HTTP server", func() error {
			go func() {
				log.Printf("Starting admin HTTP server on %s", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("admin server error: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
			return nil
		})
	}

	wg.Wait()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Converts timestamped 2-D range scans into point clouds in a target frame.")
		fmt.Fprintln(os.Stderr, "Environment variables prefixed "+config.EnvPrefix+" override the config file.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
}
