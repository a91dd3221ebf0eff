package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shader-cam/pkg/app"
	"shader-cam/pkg/config"
	"shader-cam/pkg/schedule"
	"shader-cam/pkg/server"
	"shader-cam/pkg/storage"
	"shader-cam/pkg/types"
	"shader-cam/pkg/utils"
	"shader-cam/pkg/webdav"
)

var (
	configPath string
	flags      = config.Default()
	ctrlFlags  []string

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

func main() {
	defer logger.Sync()

	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shader-cam [width] [height] [cpu_flag]",
		Short: "Capture a V4L2 camera and preview it through two shader passes",
		Long: "Capture RGB24 frames from a V4L2 device and draw each one twice side by side:\n" +
			"mirrored, and mirrored with a sine ripple. A cpu_flag starting with 1 draws\n" +
			"the plain pass twice. The composite is served as MJPEG over HTTP.",
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "TOML config file")
	f.StringVarP(&flags.Camera.Device, "device", "d", flags.Camera.Device, "capture device")
	f.IntVar(&flags.Camera.Frames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	f.StringArrayVar(&ctrlFlags, "ctrl", nil, "control to set after open, as id=value (repeatable)")
	f.IntVarP(&flags.Server.Port, "port", "p", flags.Server.Port, "preview server port, 0 disables it")
	f.IntVar(&flags.Server.WebdavPort, "webdav-port", 0, "read only webdav port for the storage dir, 0 disables it")
	f.BoolVar(&flags.Record.Enable, "record", false, "record the composite to an MJPEG AVI")
	f.IntVar(&flags.Record.FPS, "fps", flags.Record.FPS, "frame rate written to the recording")
	f.StringVar(&flags.Record.Path, "record-path", "", "recording file, defaults to a new file in the storage dir")
	f.StringVar(&flags.Storage.Dir, "snapshot-dir", flags.Storage.Dir, "directory for snapshots and recordings")
	f.IntVar(&flags.Snapshot.Interval, "snapshot-interval", 0, "seconds between automatic snapshots, 0 disables them")
	f.StringVar(&flags.Storage.NTPServer, "ntp-server", "", "correct snapshot timestamps against this NTP server")
	f.StringVar(&flags.Log.Level, "log-level", flags.Log.Level, "debug, info, warn or error")

	cmd.AddCommand(newProbeCmd())

	return cmd
}

// loadConfig merges defaults, the config file, changed flags and the
// positional arguments, in increasing precedence.
func loadConfig(fs *pflag.FlagSet, args []string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "device":
			cfg.Camera.Device = flags.Camera.Device
		case "frames":
			cfg.Camera.Frames = flags.Camera.Frames
		case "port":
			cfg.Server.Port = flags.Server.Port
		case "webdav-port":
			cfg.Server.WebdavPort = flags.Server.WebdavPort
		case "record":
			cfg.Record.Enable = flags.Record.Enable
		case "fps":
			cfg.Record.FPS = flags.Record.FPS
		case "record-path":
			cfg.Record.Path = flags.Record.Path
		case "snapshot-dir":
			cfg.Storage.Dir = flags.Storage.Dir
		case "snapshot-interval":
			cfg.Snapshot.Interval = flags.Snapshot.Interval
		case "ntp-server":
			cfg.Storage.NTPServer = flags.Storage.NTPServer
		case "log-level":
			cfg.Log.Level = flags.Log.Level
		}
	})
	if len(ctrlFlags) > 0 {
		ctrls, err := config.ParseControls(ctrlFlags)
		if err != nil {
			return cfg, err
		}
		if cfg.Camera.Controls == nil {
			cfg.Camera.Controls = map[string]int32{}
		}
		for k, v := range ctrls {
			cfg.Camera.Controls[k] = v
		}
	}

	if len(args) > 0 {
		if cfg.Camera.Width, err = strconv.Atoi(args[0]); err != nil {
			return cfg, fmt.Errorf("invalid width %q", args[0])
		}
	}
	if len(args) > 1 {
		if cfg.Camera.Height, err = strconv.Atoi(args[1]); err != nil {
			return cfg, fmt.Errorf("invalid height %q", args[1])
		}
	}
	if len(args) > 2 {
		cfg.Camera.CPU = config.ParseCPUFlag(args[2])
	}

	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), args)
	if err != nil {
		return err
	}
	if err = utils.SetLevel(cfg.Log.Level); err != nil {
		return err
	}

	ctx, stop := utils.SignalContext(cmd.Context())
	defer stop()

	var clock storage.Clock = storage.SystemClock{}
	if cfg.Storage.NTPServer != "" {
		c := storage.NewNTPClock(cfg.Storage.NTPServer)
		if err := c.Sync(); err != nil {
			logger.Warnf("ntp sync with %s failed, using the system clock: %s", cfg.Storage.NTPServer, err)
		}
		clock = c
	}
	store, err := storage.New(cfg.Storage.Dir, clock)
	if err != nil {
		return err
	}

	settings, err := cfg.Camera.Settings()
	if err != nil {
		return err
	}
	runner := app.New(app.Options{
		Device:   cfg.Camera.Device,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		CPU:      cfg.Camera.CPU,
		Frames:   cfg.Camera.Frames,
		Settings: settings,
		Record: types.RecordSetting{
			Enable: cfg.Record.Enable,
			FPS:    cfg.Record.FPS,
			Path:   cfg.Record.Path,
		},
	}, app.Deps{Store: store})

	var (
		wg    sync.WaitGroup
		lock  sync.Mutex
		bgErr error
	)
	// a failing background service stops the capture loop
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				lock.Lock()
				bgErr = multierr.Append(bgErr, fmt.Errorf("%s: %w", name, err))
				lock.Unlock()
				stop()
			}
		}()
	}

	if cfg.Server.Port != 0 {
		srv := server.New(runner, runner.Hub(), runner.Bus(), store, runner.Metrics().Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Infof("preview on http://localhost%s/api/device/realtime/video", addr)
		background("server", func(ctx context.Context) error {
			return utils.Serve(ctx, srv.Router(), addr)
		})
	}
	if cfg.Server.WebdavPort != 0 {
		background("webdav", func(ctx context.Context) error {
			return webdav.Serve(ctx, cfg.Server.WebdavPort, store.Dir())
		})
	}
	sched := schedule.New(ctx, runner.Snapshot)
	sched.Begin(cfg.Snapshot.Every())

	if configPath != "" {
		w := config.NewWatcher(configPath, func(c config.Config) {
			if err := utils.SetLevel(c.Log.Level); err != nil {
				logger.Warn(err)
			}
			sched.Begin(c.Snapshot.Every())
			s, err := c.Camera.Settings()
			if err != nil {
				logger.Warn(err)
				return
			}
			if err = runner.ApplySettings(ctx, s); err != nil {
				logger.Warnf("apply controls: %s", err)
			}
		})
		background("config watcher", w.Run)
	}

	err = runner.Run(ctx)
	stop()
	wg.Wait()

	return multierr.Append(err, bgErr)
}
