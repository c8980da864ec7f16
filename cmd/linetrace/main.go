package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/logging"
	intOtel "github.com/linetrace/simulator/internal/otel"
	"github.com/linetrace/simulator/internal/session"
)

// BuildDate and Version can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "linetrace"
)

var configDir = flag.String("config", ".", "Directory holding "+config.FileName)

// logging state, set up by setupLogging
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.Default()

	// ZLogger feeds the components that log through zerolog
	ZLogger zerolog.Logger = zerolog.Nop()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	logFile     io.WriteCloser
	gelfCloser  io.Closer

	SessionStartTime time.Time = time.Now()
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config dir] [command] [args]\n\n", AppName)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve                 run the simulation server (default)")
	fmt.Fprintln(os.Stderr, "  validate <script>     check a script and print a summary")
	fmt.Fprintln(os.Stderr, "  share <script>        print the share code of a script")
	fmt.Fprintln(os.Stderr, "  getjson <runID...>    export recorded runs from the database")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfgErr := config.Load(*configDir)

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServer(cfgErr)
	case "validate":
		err = validateScripts(os.Stdout, args)
	case "share":
		err = shareScripts(os.Stdout, args)
	case "getjson":
		err = getJSON(os.Stdout, args)
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runServer(cfgErr error) error {
	sess := session.NewContext(config.GetServerConfig().Room)

	if err := setupLogging(sess); err != nil {
		return err
	}
	defer closeLogging()

	if cfgErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		Logger.Info("Loaded config")
	}
	Logger.Info("Starting up...", "version", Version, "build", BuildDate, "room", sess.Room())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, sess)
}

// setupLogging opens the rotating log file and builds the slog pipeline:
// file or stdout, optional OTel and optional GELF, with the room and run
// attached to every record.
func setupLogging(sess *session.Context) error {
	logCfg := config.GetLogConfig()

	var out io.Writer = os.Stdout
	if logCfg.Dir != "" {
		if err := os.MkdirAll(logCfg.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs dir: %w", err)
		}
		LogFilePath = logging.LogFilePath(logCfg.Dir, AppName, SessionStartTime)
		logFile = logging.RotatingFile(LogFilePath, logCfg)
		out = logFile
	}

	SlogManager = logging.NewSlogManager()

	otelCfg := config.GetOTelConfig()
	SlogManager.SetServiceName(otelCfg.ServiceName)

	var otelLogProvider *sdklog.LoggerProvider
	var otelErr error
	if otelCfg.Enabled {
		OTelProvider, otelErr = intOtel.New(intOtel.ConfigFrom(otelCfg, Version, sess.Room(), out))
		if otelErr == nil {
			otelLogProvider = OTelProvider.LoggerProvider()
		}
	}

	var gelfErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		var h slog.Handler
		h, gelfCloser, gelfErr = logging.NewGELFHandler(gl.Address, logCfg.Level)
		if gelfErr == nil {
			SlogManager.AddHandler(h)
		}
	}

	SlogManager.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{
			slog.String("room", sess.Room()),
			slog.Uint64("runId", uint64(sess.RunID())),
		}
	})

	var file io.Writer
	if logFile != nil {
		file = logFile
	}
	SlogManager.Setup(file, logCfg.Level, otelLogProvider)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	level, err := zerolog.ParseLevel(strings.ToLower(logCfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	ZLogger = zerolog.New(out).Level(level).With().Timestamp().Str("room", sess.Room()).Logger()

	if LogFilePath != "" {
		Logger.Info("Logging to file", "path", LogFilePath)
	}
	if otelErr != nil {
		Logger.Error("Failed to initialize OTel provider", "error", otelErr)
	} else if OTelProvider != nil {
		Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}
	if gelfErr != nil {
		Logger.Error("Failed to initialize GELF output", "error", gelfErr)
	}
	return nil
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shut down OTel: %v\n", err)
		}
	}
	if gelfCloser != nil {
		_ = gelfCloser.Close()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}
