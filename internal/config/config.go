// Package config loads the pms7003d daemon configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SerialConfig selects the sensor port.
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baudRate"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// SamplerConfig controls the read loop.
type SamplerConfig struct {
	Window               int           `mapstructure:"window"`
	MaxConsecutiveErrors int           `mapstructure:"maxConsecutiveErrors"`
	ReopenInterval       time.Duration `mapstructure:"reopenInterval"`
	MaxPM                uint16        `mapstructure:"maxPM"`
	MaxCount             uint16        `mapstructure:"maxCount"`
}

// LumberjackConfig configures the rolling log file; an empty Filename disables it.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level and output.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// TopicsConfig names the MQTT topic of each published value.
type TopicsConfig struct {
	PM1_0Standard string `mapstructure:"pm1_0Standard"`
	PM2_5Standard string `mapstructure:"pm2_5Standard"`
	PM10Standard  string `mapstructure:"pm10Standard"`
	PM1_0         string `mapstructure:"pm1_0"`
	PM2_5         string `mapstructure:"pm2_5"`
	PM10          string `mapstructure:"pm10"`
	Count0_3      string `mapstructure:"count0_3"`
	Count0_5      string `mapstructure:"count0_5"`
	Count1_0      string `mapstructure:"count1_0"`
	Count2_5      string `mapstructure:"count2_5"`
	Count5_0      string `mapstructure:"count5_0"`
	Count10       string `mapstructure:"count10"`
	AirQuality    string `mapstructure:"airQuality"`
}

// MQTTConfig configures publishing of averaged readings.
type MQTTConfig struct {
	Enable bool         `mapstructure:"enable"`
	URL    string       `mapstructure:"url"`
	QoS    byte         `mapstructure:"qos"`
	Retain bool         `mapstructure:"retain"`
	Topics TopicsConfig `mapstructure:"topics"`
}

// Config is the top-level configuration.
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Sampler SamplerConfig `mapstructure:"sampler"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
}

// Load reads configuration from a YAML/TOML/JSON file and PMS7003_* environment variables.
// If path is empty, PMS7003_CONFIG is consulted, then pms7003d.yaml in ., ./configs and /etc/pms7003.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PMS7003")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pms7003")
		v.SetConfigName("pms7003d")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Serial.Device == "":
		return errors.New("config: serial.device is empty")
	case c.Serial.ReadTimeout < 0:
		return fmt.Errorf("config: serial.readTimeout %v is negative", c.Serial.ReadTimeout)
	case c.Sampler.Window < 1:
		return fmt.Errorf("config: sampler.window %d must be at least 1", c.Sampler.Window)
	case c.MQTT.Enable && c.MQTT.URL == "":
		return errors.New("config: mqtt.url is empty")
	case c.MQTT.QoS > 2:
		return fmt.Errorf("config: mqtt.qos %d out of range", c.MQTT.QoS)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/serial0")
	v.SetDefault("serial.baudRate", 9600)
	v.SetDefault("serial.readTimeout", "3s")

	v.SetDefault("sampler.window", 30)
	v.SetDefault("sampler.maxConsecutiveErrors", 5)
	v.SetDefault("sampler.reopenInterval", "5s")
	v.SetDefault("sampler.maxPM", 1000)
	v.SetDefault("sampler.maxCount", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.addr", ":9703")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.url", "mqtt://localhost:1883")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.topics.pm1_0Standard", "PMS7003/PM1.0 Standard")
	v.SetDefault("mqtt.topics.pm2_5Standard", "PMS7003/PM2.5 Standard")
	v.SetDefault("mqtt.topics.pm10Standard", "PMS7003/PM10 Standard")
	v.SetDefault("mqtt.topics.pm1_0", "PMS7003/PM1.0")
	v.SetDefault("mqtt.topics.pm2_5", "PMS7003/PM2.5")
	v.SetDefault("mqtt.topics.pm10", "PMS7003/PM10")
	v.SetDefault("mqtt.topics.count0_3", "PMS7003/0.3")
	v.SetDefault("mqtt.topics.count0_5", "PMS7003/0.5")
	v.SetDefault("mqtt.topics.count1_0", "PMS7003/1.0")
	v.SetDefault("mqtt.topics.count2_5", "PMS7003/2.5")
	v.SetDefault("mqtt.topics.count5_0", "PMS7003/5.0")
	v.SetDefault("mqtt.topics.count10", "PMS7003/10")
	v.SetDefault("mqtt.topics.airQuality", "PMS7003/AirQuality")
}
