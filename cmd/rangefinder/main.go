package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rangefinder/internal/api"
	"github.com/banshee-data/rangefinder/internal/config"
	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/lightware"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/serialmux"
	"github.com/banshee-data/rangefinder/internal/stats"
	"github.com/banshee-data/rangefinder/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file (defaults are used when empty)")
	portFlag    = flag.String("port", "", "Serial port to open at startup (overrides config)")
	baudFlag    = flag.Int("baud", 0, "Baud rate (overrides config)")
	protocol    = flag.String("protocol", "", "Line protocol: sf30 or sf33 (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath      = flag.String("db-path", "", "Path to sqlite database (overrides config)")
	devMode     = flag.Bool("dev", false, "Replay recorded sensor output instead of opening a serial port")
	noConnect   = flag.Bool("no-connect", false, "Do not open the serial port at startup; use POST /api/connect")
	verbose     = flag.Bool("verbose", false, "Log every chunk read from the port")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

//go:embed fixtures/*.txt
var fixtures embed.FS

// replayInterval is how often --dev emits a recorded line.
const replayInterval = 100 * time.Millisecond

// overrides are the command line values that take precedence over the
// config file. Zero values leave the config untouched.
type overrides struct {
	Port     string
	BaudRate int
	Protocol string
	Listen   string
	DBPath   string
}

func flagOverrides() overrides {
	return overrides{
		Port:     *portFlag,
		BaudRate: *baudFlag,
		Protocol: *protocol,
		Listen:   *listen,
		DBPath:   *dbPath,
	}
}

func applyOverrides(cfg *config.Config, o overrides) {
	if o.Port != "" {
		cfg.Port = &o.Port
	}
	if o.BaudRate != 0 {
		cfg.BaudRate = &o.BaudRate
	}
	if o.Protocol != "" {
		cfg.Protocol = &o.Protocol
	}
	if o.Listen != "" {
		cfg.Listen = &o.Listen
	}
	if o.DBPath != "" {
		cfg.DBPath = &o.DBPath
	}
}

func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fixtureFor(p lightware.Protocol) ([]byte, error) {
	return fixtures.ReadFile("fixtures/" + string(p) + ".txt")
}

func logSnapshot(p lightware.Protocol) func(stats.Snapshot) {
	return func(s stats.Snapshot) {
		log.Printf("%s: %d readings/s, average %.2fm (%d total)", p, s.Frequency, s.Average, s.TotalReadings)
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("rangefinder %s\n", version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath, flagOverrides())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		cmd := db.MigrateCommand{Out: os.Stdout, In: os.Stdin}
		if err := cmd.Run(flag.Args()[1:], cfg.GetDBPath()); err != nil {
			if errors.Is(err, db.ErrUsage) {
				os.Exit(2)
			}
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.Arg(0) == "backup" {
		if flag.NArg() != 2 {
			log.Fatal("usage: rangefinder [flags] backup <file>")
		}
		if err := backup(cfg.GetDBPath(), flag.Arg(1)); err != nil {
			log.Fatalf("backup: %v", err)
		}
		log.Printf("database backed up to %s", flag.Arg(1))
		return
	}
	if flag.NArg() > 0 {
		log.Fatalf("unknown command %q", flag.Arg(0))
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// backup copies the database at dbPath to dest without running the service.
func backup(dbPath, dest string) error {
	database, err := db.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	return database.BackupTo(dest)
}

func run(cfg *config.Config) error {
	proto, err := lightware.ParseProtocol(cfg.GetProtocol())
	if err != nil {
		return err
	}
	iface, err := lightware.ParseDataInterface(cfg.GetInterface())
	if err != nil {
		return err
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	if n, err := database.CloseDanglingSessions(time.Now()); err != nil {
		log.Printf("failed to close dangling sessions: %v", err)
	} else if n > 0 {
		log.Printf("marked %d unfinished session(s) as interrupted", n)
	}

	hub := serialmux.NewHub[reading.Reading]()
	defer hub.Close()

	var parserOpts []lightware.Option
	if cfg.GetLogStats() {
		parserOpts = append(parserOpts, lightware.WithStatsHook(logSnapshot(proto)))
	}
	if n := cfg.GetMaxLineLengthSF33(); proto == lightware.ProtocolSF33 && n > 0 {
		parserOpts = append(parserOpts, lightware.WithMaxLineLength(n))
	}
	parser, err := lightware.NewParser(proto, parserOpts...)
	if err != nil {
		return err
	}

	var notifier lightware.Notifier = lightware.NotifierFuncs{
		OnReading: hub.Publish,
		OnError: func(err error) {
			log.Printf("rangefinder connection lost: %v", err)
		},
	}
	if proto == lightware.ProtocolSF33 && cfg.GetAsyncMultiBeam() {
		async := lightware.NewAsyncNotifier(notifier, lightware.DefaultQueueDepth)
		defer func() {
			async.Close()
			if d := async.Dropped(); d > 0 {
				log.Printf("dropped %d multi-beam readings on a full queue", d)
			}
		}()
		notifier = async
	}

	var factory serialmux.SerialPortFactory = serialmux.RealSerialPortFactory{}
	if *devMode {
		data, err := fixtureFor(proto)
		if err != nil {
			return fmt.Errorf("failed to load %s fixtures: %w", proto, err)
		}
		factory = serialmux.ReplayFactory{Data: data, Interval: replayInterval}
	}

	var device *lightware.Device
	recorder := db.NewSessionRecorder(database, string(proto), func() int64 {
		return device.SessionReadings()
	})
	manager := serialmux.NewManager(factory,
		serialmux.WithCloseTimeout(cfg.GetCloseTimeout()),
		serialmux.WithSessionObserver(recorder),
	)
	device = lightware.NewDevice(parser, manager)
	defer func() {
		if err := device.Disconnect(); err != nil {
			log.Printf("failed to close serial port: %v", err)
		}
	}()

	portOpts := serialmux.PortOptions{
		BaudRate:     cfg.GetBaudRate(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}
	if !*noConnect {
		if err := device.ConnectWithOptions(cfg.GetPort(), portOpts, iface, notifier); err != nil {
			// The service stays up so a port can be chosen through the API.
			log.Printf("failed to open %s: %v", cfg.GetPort(), err)
		}
	}

	statsSource, _ := parser.(lightware.StatsSource)
	mux := api.NewServer(api.Config{
		Device:       device,
		Hub:          hub,
		Notifier:     notifier,
		Stats:        statsSource,
		DB:           database,
		Sessions:     recorder,
		ListPorts:    serialmux.ListPorts,
		PortDefaults: portOpts,
		Version:      version.String(),
	}).ServeMux()
	hub.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach database admin routes: %v", err)
	}

	server := &http.Server{
		Addr:    cfg.GetListen(),
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("listening on %s (%s, %s)", server.Addr, proto, iface)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
		return nil
	})

	return g.Wait()
}
