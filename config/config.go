package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"avatar_space/logic"
)

// ErrUnknownFormat is returned for config files that are neither JSON nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Config mirrors the config file. Missing fields keep their Default value.
type Config struct {
	Server struct {
		Addr        string  `json:"addr"`
		DefaultRoom string  `json:"default_room"`
		ChatDB      string  `json:"chat_db"`
		ChatHistory int     `json:"chat_history"`
		ChatPerSec  float64 `json:"chat_per_sec"`
		ChatBurst   int     `json:"chat_burst"`
	} `json:"server"`
	Client struct {
		URL        string       `json:"url"`
		Name       string       `json:"name"`
		Room       string       `json:"room"`
		FrameHz    int          `json:"frame_hz"`
		Spawn      logic.Vec3   `json:"spawn"`
		Clips      []string     `json:"clips"`
		Seats      []logic.Seat `json:"seats"`
		Obstacles  []logic.Box  `json:"obstacles"`
		CaptureIVF string       `json:"capture_ivf"`
	} `json:"client"`
	Controller logic.Tuning       `json:"controller"`
	Camera     logic.CameraTuning `json:"camera"`
	Network    struct {
		EmitIntervalMs int     `json:"emit_interval_ms"`
		SmoothingRate  float64 `json:"smoothing_rate"`
		ChatCap        int     `json:"chat_cap"`
	} `json:"network"`
	RTC struct {
		WatchdogMs int      `json:"watchdog_ms"`
		ICEServers []string `json:"ice_servers"`
	} `json:"rtc"`
}

// Default returns a config with every value filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.DefaultRoom = "lobby"
	cfg.Server.ChatHistory = 50
	cfg.Server.ChatPerSec = 2
	cfg.Server.ChatBurst = 5

	cfg.Client.URL = "ws://localhost:8080/ws"
	cfg.Client.Name = "guest"
	cfg.Client.Room = "lobby"
	cfg.Client.FrameHz = 60
	cfg.Client.Clips = []string{"Idle", "Walk", "Run", "Jump", "Landing", "Sitting"}

	cfg.Controller = logic.DefaultTuning()
	cfg.Camera = logic.DefaultCameraTuning()

	cfg.Network.EmitIntervalMs = 50
	cfg.Network.SmoothingRate = 12
	cfg.Network.ChatCap = 50

	cfg.RTC.WatchdogMs = 5000
	cfg.RTC.ICEServers = []string{"stun:stun.l.google.com:19302"}
	return cfg
}

// Load reads path (JSON, or YAML by extension) over the defaults, applies a
// .env file and AVATAR_* environment overrides, then clamps.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}
	applyEnv(cfg)
	Clamp(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		// YAML is routed through JSON so the json tags stay the only schema.
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("convert config %s: %w", path, err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set("AVATAR_RELAY_ADDR", &cfg.Server.Addr)
	set("AVATAR_CHAT_DB", &cfg.Server.ChatDB)
	set("AVATAR_URL", &cfg.Client.URL)
	set("AVATAR_NAME", &cfg.Client.Name)
	set("AVATAR_ROOM", &cfg.Client.Room)
	set("AVATAR_CAPTURE_IVF", &cfg.Client.CaptureIVF)
}
