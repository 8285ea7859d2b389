// Package main provides the setlistd entry point, a headless auto-DJ
// daemon that sequences and plays the queue.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/hverbeek/setlist/internal/app/envelope"
	"github.com/hverbeek/setlist/internal/app/notification"
	"github.com/hverbeek/setlist/internal/app/player"
	"github.com/hverbeek/setlist/internal/app/queue"
	"github.com/hverbeek/setlist/internal/app/recommend"
	"github.com/hverbeek/setlist/internal/app/sessionclock"
	"github.com/hverbeek/setlist/internal/app/tasks"
	"github.com/hverbeek/setlist/internal/infra/catalog"
	"github.com/hverbeek/setlist/internal/infra/config"
	"github.com/hverbeek/setlist/internal/infra/logger"
)

const paramsPreferenceKey = "autodj_params"

var (
	app        = kingpin.New("setlistd", "setlist sequencing daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/setlist.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	showParamsCmd = app.Command("show-params", "Print effective recommender parameters and exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := cfg.Logging
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if command == showParamsCmd.FullCommand() {
		if err := showParams(cfg); err != nil {
			zlog.Error().Msgf("Failed to show parameters: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// run wires the engine together and blocks until a termination signal.
func run(cfg *config.Config) error {
	cat, err := catalog.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	params, err := loadParams(cfg, cat)
	if err != nil {
		return err
	}
	recommender := recommend.New(cat, params)

	var envRepo envelope.Repository
	if cfg.Storage.PersistEnvelopes {
		envRepo = cat
	}
	envelopes := envelope.NewStore(envRepo)
	for trackID, serialized := range cat.Waypoints() {
		waypoints, err := envelope.Parse(serialized)
		if err != nil {
			zlog.Warn().Msgf("Discarding malformed waypoints for %s: %v", trackID, err)
			continue
		}
		envelopes.Load(trackID, waypoints)
	}

	q := queue.New(cat)
	defer q.Close()

	notifier := notification.NewManager()
	defer notifier.Close()
	go bridgeEvents(q, notifier)

	if cfg.AutoDJ.Enabled {
		q.SetSuggestionSource(recommender)
	}

	deck := player.New(q, envelopes, cat, &logOutput{}, player.Config{
		Silence:    time.Duration(cfg.Player.SilenceSec * float64(time.Second)),
		Fadeout:    time.Duration(cfg.Player.FadeoutSec * float64(time.Second)),
		VolumeTick: time.Duration(cfg.Player.VolumeTickMs) * time.Millisecond,
	})
	defer deck.Close()

	runner := tasks.NewRunner(deck, 64)
	runner.Start()
	defer runner.Stop()

	if cfg.Session.EndTime != "" {
		clock, err := sessionclock.Parse(cfg.Session.EndTime)
		if err != nil {
			return err
		}
		go watchOverrun(q, clock)
	}

	if err := deck.Play(); err != nil {
		zlog.Info().Msgf("Not starting playback: %v", err)
	}

	zlog.Info().Msgf("setlistd running with %d tracks", cat.Len())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zlog.Info().Msgf("Received %s, shutting down", sig)
	return nil
}

// bridgeEvents translates queue events into broadcast notifications.
func bridgeEvents(q *queue.Queue, notifier *notification.Manager) {
	for e := range q.Events() {
		n := notification.Notification{At: time.Now()}
		if e.Entry != nil {
			n.TrackID = e.Entry.Track.ID
		}
		switch e.Type {
		case queue.EventSuggestionChanged:
			n.Kind = notification.KindSuggestionChanged
		case queue.EventAdvanced:
			n.Kind = notification.KindTrackEnded
		default:
			n.Kind = notification.KindQueueChanged
		}
		notifier.Broadcast(n)
	}
}

// watchOverrun periodically warns when the queued material runs past the
// session end time.
func watchOverrun(q *queue.Queue, clock *sessionclock.Clock) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	warned := false
	for range ticker.C {
		now := time.Now()
		projected := q.ProjectedEndTime(now)
		overrun := projected.After(clock.Target(now))
		if overrun && !warned {
			zlog.Warn().Msgf("Queue runs until %s, past the session end %s",
				projected.Format("15:04"), clock.Target(now).Format("15:04"))
		}
		warned = overrun
	}
}

// loadParams prefers parameters stored in the preferences table over the
// config file.
func loadParams(cfg *config.Config, cat *catalog.Store) (recommend.Params, error) {
	stored, ok, err := cat.GetPreference(paramsPreferenceKey)
	if err != nil {
		return recommend.Params{}, err
	}
	if !ok {
		return cfg.AutoDJ.Params, nil
	}

	var settings map[string]any
	if err := yaml.Unmarshal([]byte(stored), &settings); err != nil {
		zlog.Warn().Msgf("Ignoring malformed stored parameters: %v", err)
		return cfg.AutoDJ.Params, nil
	}
	return config.DecodeParams(settings)
}

func showParams(cfg *config.Config) error {
	cat, err := catalog.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	params, err := loadParams(cfg, cat)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// logOutput is a headless audio output that only logs control decisions.
// The real decoder/mixer lives outside this engine.
type logOutput struct{}

func (o *logOutput) Play(trackID string) {
	zlog.Info().Msgf("output: play %s", trackID)
}

func (o *logOutput) SetVolume(level float64) {
	zlog.Debug().Msgf("output: volume %.2f", level)
}

func (o *logOutput) Stop() {
	zlog.Info().Msg("output: stop")
}
