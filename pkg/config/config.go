// Package config loads the program configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/vladimirvivien/go4vl/v4l2"

	"shader-cam/pkg/camera"
	"shader-cam/pkg/types"
)

type Config struct {
	Camera   Camera   `toml:"camera"`
	Server   Server   `toml:"server"`
	Record   Record   `toml:"record"`
	Storage  Storage  `toml:"storage"`
	Snapshot Snapshot `toml:"snapshot"`
	Log      Log      `toml:"log"`
}

type Camera struct {
	Device string `toml:"device"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	// CPU draws the identity pass on both halves.
	CPU bool `toml:"cpu"`
	// Frames stops the loop after that many frames, 0 runs until
	// interrupted.
	Frames int `toml:"frames"`
	// Controls are applied right after the device starts streaming. Keys
	// are decimal control IDs.
	Controls map[string]int32 `toml:"controls"`
}

type Server struct {
	// Port of the preview server, 0 disables it.
	Port int `toml:"port"`
	// WebdavPort exports the storage dir read only, 0 disables it.
	WebdavPort int `toml:"webdav_port"`
}

type Record struct {
	Enable bool `toml:"enable"`
	FPS    int  `toml:"fps"`
	// Path of the AVI file, empty picks a name under the storage dir.
	Path string `toml:"path"`
}

type Storage struct {
	Dir       string `toml:"dir"`
	NTPServer string `toml:"ntp_server"`
}

type Snapshot struct {
	// Interval in seconds between automatic snapshots, 0 disables them.
	Interval int `toml:"interval"`
}

func (s Snapshot) Every() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

type Log struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Camera: Camera{
			Device: camera.DefaultDevice,
			Width:  camera.DefaultWidth,
			Height: camera.DefaultHeight,
		},
		Server: Server{
			Port: 9999,
		},
		Record: Record{
			FPS: 30,
		},
		Storage: Storage{
			Dir: "./shader-cam",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Camera.Device == "" {
		return fmt.Errorf("camera.device can not be empty")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Frames < 0 {
		return fmt.Errorf("camera.frames must not be negative")
	}
	if c.Snapshot.Interval < 0 {
		return fmt.Errorf("snapshot.interval must not be negative")
	}
	if c.Record.Enable && c.Record.FPS <= 0 {
		return fmt.Errorf("record.fps must be positive")
	}
	for _, p := range []int{c.Server.Port, c.Server.WebdavPort} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("invalid port %d", p)
		}
	}
	if _, err := c.Camera.Settings(); err != nil {
		return err
	}

	return nil
}

// Settings converts Controls to control IDs.
func (c Camera) Settings() (types.CameraSettings, error) {
	res := make(types.CameraSettings, len(c.Controls))
	for k, v := range c.Controls {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid control id %q", k)
		}
		res[v4l2.CtrlID(id)] = v4l2.CtrlValue(v)
	}

	return res, nil
}

// ParseControls parses id=value pairs as given on the command line.
func ParseControls(pairs []string) (map[string]int32, error) {
	res := make(map[string]int32, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("control %q is not id=value", p)
		}
		k = strings.TrimSpace(k)
		if _, err := strconv.ParseUint(k, 10, 32); err != nil {
			return nil, fmt.Errorf("invalid control id %q", k)
		}
		val, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value for control %s: %w", k, err)
		}
		res[k] = int32(val)
	}

	return res, nil
}

// ParseCPUFlag reads the cpu positional argument: anything starting with
// '1' selects the identity second pass.
func ParseCPUFlag(s string) bool {
	return strings.HasPrefix(s, "1")
}
