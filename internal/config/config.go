package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// PathPlaceholder is replaced with the image path in Painter.Args.
const PathPlaceholder = "{path}"

type Config struct {
	SocketPath        string         `koanf:"socket_path" validate:"required"`
	DBPath            string         `koanf:"db_path" validate:"required"`
	BackgroundsDir    string         `koanf:"backgrounds_dir"`
	Interval          time.Duration  `koanf:"interval" validate:"gt=0"`
	BindRetry         time.Duration  `koanf:"bind_retry" validate:"gt=0"`
	ReadBufferSize    int            `koanf:"read_buffer_size" validate:"min=64"`
	StrictSuffixMatch bool           `koanf:"strict_suffix_match"`
	InitialJumpDelay  time.Duration  `koanf:"initial_jump_delay" validate:"gte=0"`
	ShutdownTimeout   time.Duration  `koanf:"shutdown_timeout" validate:"gt=0"`
	StatusAddr        string         `koanf:"status_addr" validate:"omitempty,hostname_port"`
	Log               LogConfig      `koanf:"log"`
	Painter           PainterConfig  `koanf:"painter"`
	DayNight          DayNightConfig `koanf:"day_night"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type PainterConfig struct {
	Command         string        `koanf:"command" validate:"required"`
	Args            []string      `koanf:"args"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

type DayNightConfig struct {
	DaySchedule   string `koanf:"day_schedule" validate:"required"`
	NightSchedule string `koanf:"night_schedule" validate:"required"`
}

func DefaultConfig() Config {
	return Config{
		SocketPath:       defaultSocketPath(),
		DBPath:           defaultDBPath(),
		BackgroundsDir:   defaultBackgroundsDir(),
		Interval:         time.Hour,
		BindRetry:        5 * time.Second,
		ReadBufferSize:   1 << 20,
		InitialJumpDelay: 100 * time.Millisecond,
		ShutdownTimeout:  10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Painter: PainterConfig{
			Command:         "swww",
			Args:            []string{"img", PathPlaceholder, "--transition-fps", "60", "--transition-type", "any"},
			Timeout:         10 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		DayNight: DayNightConfig{
			DaySchedule:   "0 6 * * *",
			NightSchedule: "0 18 * * *",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "itchd.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("itchd-%d.sock", os.Getuid()))
}

func defaultDBPath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "itch", "itch.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "itch.db"
	}
	return filepath.Join(home, ".local", "share", "itch", "itch.db")
}

func defaultBackgroundsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Pictures", "backgrounds")
}

func defaultConfigFile() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "itch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "itch", "config.yaml")
}
