// aircast - cast local video files and URLs to AirPlay receivers.
//
// aircast discovers receivers on the local network, speaks the AirPlay
// control protocol to start and steer playback, receives state events
// over a reverse-HTTP channel, and serves local media over an
// access-controlled HTTP server. Files the receiver cannot play are
// repackaged with ffmpeg first. Playback activity is optionally
// recorded to a local history database and published via MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/aircast-project/aircast/internal/config"
	"github.com/aircast-project/aircast/internal/db"
	"github.com/aircast-project/aircast/internal/device"
	"github.com/aircast-project/aircast/internal/discovery"
	"github.com/aircast-project/aircast/internal/events"
	"github.com/aircast-project/aircast/internal/media"
	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/telemetry"
	"github.com/aircast-project/aircast/internal/util"
)

const (
	AppName    = "aircast"
	AppVersion = "1.0.0"
)

func main() {
	var (
		deviceFlag  = flag.String("device", "", "receiver address as host[:port]; discovered automatically when empty")
		position    = flag.Float64("position", 0.0, "start position as a fraction of the duration (0.0-1.0)")
		force       = flag.Bool("force", false, "skip format checking and conversion")
		ffmpegPath  = flag.String("ffmpeg", "", "ffmpeg binary for conversion")
		ffprobePath = flag.String("ffprobe", "", "ffprobe binary for format detection")
		tmpDir      = flag.String("tmpdir", "", "working directory for converted files")
		configDir   = flag.String("config", config.DefaultConfigDir, "configuration directory")
		listOnly    = flag.Bool("list", false, "list receivers on the network and exit")
		historyOnly = flag.Bool("history", false, "show recent playback history and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <path or URL>\n\n", AppName)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(config.LoggingConfig{Level: "info", Directory: "logs", MaxBackups: 5, Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting aircast")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	if err := util.InitLogger(cfg.Application.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Flags override the configured encoder paths.
	appCfg := cfg.GetApplication()
	if *ffmpegPath != "" {
		appCfg.Encoder.FFmpegPath = *ffmpegPath
	}
	if *ffprobePath != "" {
		appCfg.Encoder.FFprobePath = *ffprobePath
	}
	if *tmpDir != "" {
		appCfg.Encoder.TempDir = *tmpDir
	}
	cfg.SetApplication(appCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *listOnly {
		if err := listReceivers(ctx); err != nil {
			log.Fatal().Err(err).Msg("discovery failed")
		}
		return
	}

	if *historyOnly {
		if err := showHistory(cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to read history")
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	target := flag.Arg(0)

	if err := run(ctx, cancel, cfg, target, *deviceFlag, *position, *force); err != nil {
		log.Fatal().Err(err).Msg("playback failed")
	}
}

// run is the main playback flow: resolve a receiver, prepare the media,
// start playback, and follow it until it finishes or is interrupted.
func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, target, deviceFlag string, position float64, force bool) error {
	dev, err := resolveDevice(ctx, cfg, deviceFlag)
	if err != nil {
		return err
	}
	log.Info().Str("device", dev.String()).Msg("using receiver")

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	// Optional playback history
	var history *db.HistoryStore
	if hc := cfg.GetApplication().History; hc.Enabled {
		database, err := db.NewDatabase(hc.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			defer database.Close()
			history, err = db.NewHistoryStore(database)
			if err != nil {
				log.Warn().Err(err).Msg("failed to prepare history schema, history disabled")
				history = nil
			}
		}
	}

	// Optional MQTT telemetry
	var wg sync.WaitGroup
	if mc := cfg.GetApplication().MQTT; mc.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mc, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}
	// Stop background tasks before returning: cancel runs first, then
	// the wait.
	defer wg.Wait()
	defer cancel()

	timeout := time.Duration(cfg.GetDevice().TimeoutSec) * time.Second
	client, err := device.Connect(dev, device.Options{
		Timeout: timeout,
		OnEvent: func(event plist.Dict) {
			state := events.ParsePlaybackState(event["state"].Str())
			eventBus.Emit(ctx, events.Event{
				Type:   events.EventPlaybackState,
				Source: "device",
				Payload: events.PlaybackStatePayload{
					Device: dev.Addr(),
					State:  state,
				},
			})
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()

	eventBus.Emit(ctx, events.Event{
		Type:    events.EventDeviceConnected,
		Source:  "main",
		Payload: dev.Addr(),
	})

	playbackURL, err := preparePlayback(ctx, cfg, client, eventBus, dev.Addr(), target, force)
	if err != nil {
		return err
	}

	ok, err := client.Play(playbackURL, position)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("receiver refused to play %s", playbackURL)
	}

	var sessionID int64
	if history != nil {
		if id, err := history.RecordStart(dev.Addr(), playbackURL); err == nil {
			sessionID = id
		} else {
			log.Warn().Err(err).Msg("failed to record session")
		}
	}

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventPlaybackStarted,
		Source: "main",
		Payload: events.PlaybackSessionPayload{
			Device:   dev.Addr(),
			URL:      playbackURL,
			Position: position,
		},
	})

	duration, pos, completed := followPlayback(ctx, cancel, client, eventBus, dev.Addr())

	if history != nil && sessionID != 0 {
		if err := history.RecordEnd(sessionID, duration, pos, completed); err != nil {
			log.Warn().Err(err).Msg("failed to close session record")
		}
	}

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventPlaybackStopped,
		Source: "main",
		Payload: events.PlaybackSessionPayload{
			Device:   dev.Addr(),
			URL:      playbackURL,
			Position: pos,
		},
	})

	fmt.Println()
	log.Info().
		Str("position", humanizeSeconds(pos)).
		Bool("completed", completed).
		Msg("playback finished")
	return nil
}

// preparePlayback turns the target into a URL the receiver can fetch:
// remote URLs pass through (converted when incompatible), local files
// are checked, converted if needed, and served over HTTP.
func preparePlayback(ctx context.Context, cfg *config.Config, client *device.Client, eventBus *events.EventBus, deviceAddr, target string, force bool) (string, error) {
	encCfg := cfg.GetApplication().Encoder
	encoder := media.NewEncoder(encCfg.FFmpegPath, encCfg.FFprobePath)

	isLocal := isLocalFile(target)

	servePaths := []string{target}
	if !force {
		compatible, err := encoder.CompatiblePlayback(ctx, target)
		switch {
		case err == nil && compatible:
			// Playable as-is.
		case err == nil:
			log.Info().Str("target", target).Msg("format not supported by receiver, converting")
			index, stream, err := encoder.Segment(ctx, []string{target}, encCfg.TempDir)
			if err != nil {
				return "", err
			}
			servePaths = []string{index, stream}
			isLocal = true
		case errors.As(err, new(*media.NotInstalledError)):
			// Playing anyway cannot make things worse.
			log.Warn().Msg("ffmpeg/ffprobe not installed, skipping format check")
		default:
			return "", err
		}
	}

	if !isLocal && len(servePaths) == 1 {
		return target, nil
	}

	urls, err := client.Serve(servePaths...)
	if err != nil {
		return "", err
	}

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventServeStarted,
		Source: "main",
		Payload: events.ServePayload{
			Device: deviceAddr,
			URLs:   urls,
		},
	})

	// The first URL is the entry point: the file itself, or the HLS
	// index referencing the transport stream next to it.
	return urls[0], nil
}

// followPlayback polls the receiver for progress and drains pushed
// state events until playback ends or the user interrupts.
func followPlayback(ctx context.Context, cancel context.CancelFunc, client *device.Client, eventBus *events.EventBus, deviceAddr string) (duration, position float64, completed bool) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("interrupted, stopping playback")
			if _, err := client.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop playback")
			}
			cancel()
			return duration, position, false

		case <-ctx.Done():
			return duration, position, false

		case <-ticker.C:
		}

		// Drain pushed state events without blocking the poll loop.
		for {
			event, ok, err := client.NextEvent(false)
			if err != nil {
				log.Warn().Err(err).Msg("event channel failed")
				return duration, position, false
			}
			if !ok {
				break
			}
			if event["state"].Str() == "stopped" {
				return duration, position, position > 0 && duration > 0 && position >= duration-1
			}
		}

		d, p, err := client.Scrub()
		if err != nil {
			log.Warn().Err(err).Msg("progress poll failed")
			return duration, position, false
		}
		if d > 0 {
			duration, position = d, p

			eventBus.Emit(ctx, events.Event{
				Type:   events.EventPlaybackProgress,
				Source: "main",
				Payload: events.PlaybackStatePayload{
					Device:   deviceAddr,
					Duration: duration,
					Position: position,
				},
			})

			fmt.Printf("\r%s / %s (%.1f%%)   ",
				humanizeSeconds(position), humanizeSeconds(duration), position/duration*100)

			if position >= duration {
				return duration, position, true
			}
		}
	}
}

// resolveDevice picks the receiver: the -device flag, then the
// configured host, then the first receiver discovery finds.
func resolveDevice(ctx context.Context, cfg *config.Config, deviceFlag string) (device.Device, error) {
	devCfg := cfg.GetDevice()

	if deviceFlag != "" {
		return parseDeviceAddr(deviceFlag, devCfg.Port)
	}

	if devCfg.Host != "" {
		return device.NewDevice(devCfg.Host, devCfg.Port, ""), nil
	}

	log.Info().Msg("no receiver configured, discovering")
	found, err := discovery.Find(ctx, discovery.DefaultTimeout, true)
	if err != nil {
		return device.Device{}, err
	}
	if len(found) == 0 {
		return device.Device{}, fmt.Errorf("no receivers found on the network")
	}
	return found[0], nil
}

// parseDeviceAddr parses host[:port].
func parseDeviceAddr(addr string, defaultPort int) (device.Device, error) {
	if !strings.Contains(addr, ":") {
		return device.NewDevice(addr, defaultPort, ""), nil
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return device.Device{}, fmt.Errorf("invalid device address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return device.Device{}, fmt.Errorf("invalid device port %q", portStr)
	}
	return device.NewDevice(host, port, ""), nil
}

// isLocalFile reports whether target names an existing local file
// rather than a remote URL.
func isLocalFile(target string) bool {
	if util.FileExists(target) {
		return true
	}
	u, err := url.Parse(target)
	return err != nil || u.Scheme == ""
}

// listReceivers sweeps the network and prints every receiver found.
func listReceivers(ctx context.Context) error {
	fmt.Println("Searching for receivers...")

	found, err := discovery.Find(ctx, discovery.DefaultTimeout, false)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No receivers found.")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Name", "Host", "Port"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, dev := range found {
		tw.Append([]string{dev.Name, dev.Host, strconv.Itoa(dev.Port)})
	}

	tw.Render()
	return nil
}

// showHistory prints the most recent playback sessions.
func showHistory(cfg *config.Config) error {
	hc := cfg.GetApplication().History
	if !hc.Enabled {
		return fmt.Errorf("history is disabled in the configuration")
	}

	database, err := db.NewDatabase(hc.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := db.NewHistoryStore(database)
	if err != nil {
		return err
	}

	records, err := store.Recent(20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No playback history.")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Started", "Device", "URL", "Position", "Completed"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		completed := "no"
		if r.Completed {
			completed = "yes"
		}
		tw.Append([]string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Device,
			r.URL,
			humanizeSeconds(r.Position),
			completed,
		})
	}

	tw.Render()
	return nil
}

// humanizeSeconds formats a duration in seconds as H:MM:SS.
func humanizeSeconds(secs float64) string {
	total := int(secs)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
