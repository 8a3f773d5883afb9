package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/people.counter/internal/api"
	"github.com/banshee-data/people.counter/internal/config"
	"github.com/banshee-data/people.counter/internal/db"
	"github.com/banshee-data/people.counter/internal/publish"
	"github.com/banshee-data/people.counter/internal/security"
	"github.com/banshee-data/people.counter/internal/serialmux"
	"github.com/banshee-data/people.counter/internal/session"
	"github.com/banshee-data/people.counter/internal/timeutil"
)

var (
	input          = flag.String("input", "-", "Detection feed: a recorded file, - for stdin, serial:/dev/ttyX, or none to serve the API only")
	baud           = flag.Int("baud", serialmux.DefaultBaudRate, "Baud rate for serial inputs")
	framing        = flag.String("framing", serialmux.DefaultFraming, "Data bits, parity and stop bits for serial inputs")
	dbPath         = flag.String("db", "people_counter.db", "SQLite database path")
	listen         = flag.String("listen", ":8080", "Listen address")
	mqttBroker     = flag.String("mqtt", "", "MQTT broker host:port (empty disables MQTT)")
	mqttClientID   = flag.String("mqtt-client-id", "people-counter", "MQTT client ID")
	topicPrefix    = flag.String("topic-prefix", "", "Prefix for MQTT topics, e.g. site-a publishes to site-a/person")
	configFile     = flag.String("config", config.DefaultConfigPath, "Tuning config JSON (empty uses built-in defaults)")
	probThreshold  = flag.Float64("pt", -1, "Detection probability threshold in [0,1], overrides the config file")
	devMode        = flag.Bool("dev", false, "Run in dev mode: log every event")
	statusInterval = flag.Duration("status-interval", time.Minute, "How often to log session status (0 disables)")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	switch flag.Arg(0) {
	case "":
		serve()
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	case "report":
		handleReport(flag.Args()[1:])
	case "version":
		handleVersion()
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
		printUsage()
		os.Exit(1)
	}
}

// loadTuning reads the tuning file and applies the -pt override. An
// empty path, or a missing default file, uses the built-in defaults.
func loadTuning(path string, pt float64) (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if path != "" {
		if err := security.ValidateConfigPath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		loaded, err := config.LoadTuningConfig(path)
		switch {
		case err == nil:
			cfg = loaded
		case path == config.DefaultConfigPath && errors.Is(err, fs.ErrNotExist):
			log.Printf("%s not found, using built-in tuning defaults", path)
		default:
			return nil, err
		}
	}
	if pt >= 0 {
		cfg.ProbThreshold = &pt
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// buildSinks returns the event sinks for the flags. The MQTT sink is
// returned separately so its stats can be served; it is nil without a
// broker. Events are logged in dev mode and whenever there is no broker.
func buildSinks(ctx context.Context, tuning *config.TuningConfig) (publish.MultiSink, *publish.MQTTSink, error) {
	var sinks publish.MultiSink
	var mqttSink *publish.MQTTSink
	if *mqttBroker != "" {
		mqttSink = publish.NewMQTTSink(publish.MQTTOptions{
			Broker:         *mqttBroker,
			ClientID:       *mqttClientID,
			TopicPrefix:    *topicPrefix,
			QoS:            tuning.GetMQTTQoS(),
			PublishTimeout: tuning.GetPublishTimeout(),
		})
		if err := mqttSink.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", *mqttBroker, err)
		}
		sinks = append(sinks, mqttSink)
	}
	if *devMode || mqttSink == nil {
		sinks = append(sinks, publish.LogSink{})
	}
	return sinks, mqttSink, nil
}

func serve() {
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := loadTuning(*configFile, *probThreshold)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	spec, err := parseInput(*input)
	if err != nil {
		log.Fatalf("invalid -input: %v", err)
	}
	m, err := openFeed(spec, *baud, *framing)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer m.Close()

	if err := m.Initialize(); err != nil {
		log.Fatalf("failed to initialize device: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, mqttSink, err := buildSinks(ctx, tuning)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sinks.Close()

	server := api.NewServer(m, database, tuning)
	if mqttSink != nil {
		server.SetPublishStats(mqttSink)
	}

	var sess *session.Session
	var lines chan string
	if spec.kind != "none" {
		cfg, err := session.ConfigFromTuning(tuning, spec.String())
		if err != nil {
			log.Fatalf("invalid tuning config: %v", err)
		}
		sess = session.New(cfg, sinks, database, timeutil.RealClock{})
		server.SetLive(sess)
		// Subscribe before the monitor starts so no line is missed.
		_, lines = m.SubscribeOrdered()
	}

	// Create a wait group for the HTTP server, feed monitor, and session routines
	var wg sync.WaitGroup
	var sessionErr error

	// run the monitor routine to manage IO on the feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor feed: %v", err)
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	if sess != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The session ending for any reason, including the end of a
			// recorded feed, shuts the counter down.
			defer stop()
			log.Printf("session %s counting %s", sess.ID, spec)
			if err := sess.Run(ctx, lines); err != nil {
				sessionErr = err
				return
			}
			st := sess.Status()
			log.Printf("session %s finished: %d frames, total %d", sess.ID, st.Tracker.Frames, st.Tracker.Total)
		}()

		if *statusInterval > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				heartbeat(ctx, timeutil.RealClock{}, *statusInterval, sess, mqttSink)
			}()
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()

		// mount the admin debugging routes (accessible only over loopback or Tailscale)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		m.AttachAdminRoutes(mux)

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	if sessionErr != nil {
		sinks.Close()
		database.Close()
		log.Fatalf("session failed: %v", sessionErr)
	}
	log.Printf("Graceful shutdown complete")
}

// heartbeat logs the session status every interval until ctx ends.
func heartbeat(ctx context.Context, clock timeutil.Clock, interval time.Duration, sess *session.Session, mqttSink *publish.MQTTSink) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			log.Print(statusLine(sess.Status(), mqttSink))
		}
	}
}

func statusLine(st session.Status, mqttSink *publish.MQTTSink) string {
	line := fmt.Sprintf("status: count=%d total=%d frames=%d skipped=%d rejected=%d",
		st.Tracker.LastCount, st.Tracker.Total, st.Tracker.Frames, st.Skipped, st.Rejected)
	if mqttSink != nil {
		ps := mqttSink.Stats()
		var published uint64
		for _, n := range ps.Published {
			published += n
		}
		line += fmt.Sprintf(" mqtt_connected=%v published=%d errors=%d", ps.Connected, published, ps.Errors)
	}
	return line
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `counter - occupancy event tracker for a people counter

Usage:
  counter [flags]                         count people on a detection feed
  counter [flags] migrate <action>        manage the database schema (up, down, status, force <v>)
  counter [flags] report -session <id>    render plots for a stored session
  counter version                         print build information

Flags:
`)
	flag.PrintDefaults()
}
