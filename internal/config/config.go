package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	HTTP    HTTPConfig    `yaml:"http"`
	Device  DeviceConfig  `yaml:"device"`
	Axes    AxesConfig    `yaml:"axes"`
	Session SessionConfig `yaml:"session"`
	Record  RecordConfig  `yaml:"record"`
	Logging LoggingConfig `yaml:"logging"`
	Debug   DebugConfig   `yaml:"debug"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// RequestsPerSecond caps the control API; 0 disables the cap.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type DeviceConfig struct {
	Driver      string `yaml:"driver"`
	Name        string `yaml:"name"`
	VendorID    uint32 `yaml:"vendor_id"`
	ProductID   uint32 `yaml:"product_id"`
	Version     uint32 `yaml:"version"`
	UHIDPath    string `yaml:"uhid_path"`
	AutoConnect bool   `yaml:"auto_connect"`
}

type AxesConfig struct {
	Deadzone float32 `yaml:"deadzone"`
	// MaxRateHz caps reports per second; -1 disables the cap.
	MaxRateHz    float64    `yaml:"max_rate_hz"`
	CenterOnIdle bool       `yaml:"center_on_idle"`
	Invert       InvertAxes `yaml:"invert"`
}

type InvertAxes struct {
	LeftX  bool `yaml:"left_x"`
	LeftY  bool `yaml:"left_y"`
	RightX bool `yaml:"right_x"`
	RightY bool `yaml:"right_y"`
}

type SessionConfig struct {
	ClientTimeout time.Duration `yaml:"client_timeout"`
	MaxClients    int           `yaml:"max_clients"`
}

type RecordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

type DebugConfig struct {
	Console bool `yaml:"console"`
	// TracePackets logs every client packet at debug level.
	TracePackets bool `yaml:"trace_packets"`
}

// Default returns the values used for every field the file leaves unset.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Host: "0.0.0.0", Port: 7575},
		HTTP: HTTPConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              7576,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestsPerSecond: 50,
		},
		Device: DeviceConfig{
			Driver:      "uhid",
			Name:        "Hoverwheel Virtual Steering Wheel",
			VendorID:    0x1209,
			ProductID:   0x4857,
			Version:     1,
			AutoConnect: true,
		},
		Axes: AxesConfig{
			MaxRateHz:    250,
			CenterOnIdle: true,
		},
		Session: SessionConfig{
			ClientTimeout: 10 * time.Second,
			MaxClients:    4,
		},
		Record: RecordConfig{Path: "hoverwheel.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// HOVERWHEEL_* environment overrides. A .env file next to the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	envListenPort   = "HOVERWHEEL_LISTEN_PORT"
	envHTTPPort     = "HOVERWHEEL_HTTP_PORT"
	envDeviceDriver = "HOVERWHEEL_DEVICE_DRIVER"
	envUHIDPath     = "HOVERWHEEL_UHID_PATH"
	envLogLevel     = "HOVERWHEEL_LOG_LEVEL"
	envRecordPath   = "HOVERWHEEL_RECORD_PATH"
)

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envListenPort, err)
		}
		c.Listen.Port = port
	}
	if v := os.Getenv(envHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envHTTPPort, err)
		}
		c.HTTP.Port = port
	}
	c.Device.Driver = envOr(envDeviceDriver, c.Device.Driver)
	c.Device.UHIDPath = envOr(envUHIDPath, c.Device.UHIDPath)
	c.Logging.Level = envOr(envLogLevel, c.Logging.Level)
	c.Record.Path = envOr(envRecordPath, c.Record.Path)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var ErrInvalid = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.HTTP.Enabled && (c.HTTP.Port < 0 || c.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Device.Driver == "" {
		errs = append(errs, errors.New("device.driver is empty"))
	}
	if c.Axes.Deadzone < 0 || c.Axes.Deadzone >= 1 {
		errs = append(errs, fmt.Errorf("axes.deadzone %v must be in [0, 1)", c.Axes.Deadzone))
	}
	if c.Axes.MaxRateHz < 0 && c.Axes.MaxRateHz != -1 {
		errs = append(errs, fmt.Errorf("axes.max_rate_hz %v must be positive or -1", c.Axes.MaxRateHz))
	}
	if c.Session.MaxClients < 1 {
		errs = append(errs, fmt.Errorf("session.max_clients %d must be at least 1", c.Session.MaxClients))
	}
	if c.Session.ClientTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.client_timeout %v must be positive", c.Session.ClientTimeout))
	}
	if c.Record.Enabled && c.Record.Path == "" {
		errs = append(errs, errors.New("record.path is empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
