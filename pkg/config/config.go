package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/xdimtech/go-avatarlink/pkg/animation"
)

const envPrefix = "AVATARLINK"

var conf BizConf

type BackoffConf struct {
	Enabled     bool          `yaml:"enabled"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type LinkConf struct {
	Address           string        `yaml:"address"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	CloseGrace        time.Duration `yaml:"close_grace"`
	Backoff           BackoffConf   `yaml:"backoff"`
}

type RendererConf struct {
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type AnimationConf struct {
	FPS     int    `yaml:"fps"`
	Emotion string `yaml:"emotion"`
}

type LogConf struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConf struct {
	Listen string `yaml:"listen"`
}

type BizConf struct {
	Link      LinkConf      `yaml:"link"`
	Renderer  RendererConf  `yaml:"renderer"`
	Animation AnimationConf `yaml:"animation"`
	Log       LogConf       `yaml:"log"`
	Metrics   MetricsConf   `yaml:"metrics"`
}

func Get() *BizConf {
	return &conf
}

func Link() *LinkConf {
	return &conf.Link
}

func Renderer() *RendererConf {
	return &conf.Renderer
}

func Animation() *AnimationConf {
	return &conf.Animation
}

// Load reads the configuration into the package-level settings returned by Get.
func Load(path string) error {
	c, err := Parse(path)
	if err != nil {
		return err
	}
	conf = *c
	return nil
}

// Parse reads path, or conf/biz.yaml when path is empty, overlaid with AVATARLINK_* env vars.
// A missing default file is not an error; defaults apply.
func Parse(path string) (*BizConf, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("biz")
		v.SetConfigType("yaml")
		v.AddConfigPath("conf")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var c BizConf
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &c,
		TagName:          "yaml",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.address", "ws://127.0.0.1:8080/avatar/v1/")
	v.SetDefault("link.auto_reconnect", true)
	v.SetDefault("link.reconnect_interval", "5s")
	v.SetDefault("link.handshake_timeout", "10s")
	v.SetDefault("link.close_grace", "2s")
	v.SetDefault("link.backoff.enabled", false)
	v.SetDefault("link.backoff.max_interval", "1m")
	v.SetDefault("link.backoff.multiplier", 2.0)
	v.SetDefault("link.backoff.jitter", 0.2)
	v.SetDefault("link.backoff.max_attempts", 0)
	v.SetDefault("renderer.listen", ":8080")
	v.SetDefault("renderer.path", "/avatar/v1/")
	v.SetDefault("renderer.idle_timeout", "0s")
	v.SetDefault("renderer.ping_interval", "10s")
	v.SetDefault("animation.fps", 30)
	v.SetDefault("animation.emotion", "neutral")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.listen", "")
}

func (c *BizConf) Validate() error {
	u, err := url.Parse(c.Link.Address)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("link.address must be a ws:// or wss:// url, got %q", c.Link.Address)
	}
	if c.Link.ReconnectInterval <= 0 {
		return fmt.Errorf("link.reconnect_interval must be positive")
	}
	if b := c.Link.Backoff; b.Enabled {
		if b.Multiplier < 1 {
			return fmt.Errorf("link.backoff.multiplier must be at least 1")
		}
		if b.Jitter < 0 || b.Jitter > 1 {
			return fmt.Errorf("link.backoff.jitter must be within [0, 1]")
		}
	}
	if c.Link.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("link.backoff.max_attempts must not be negative")
	}
	if !strings.HasPrefix(c.Renderer.Path, "/") {
		return fmt.Errorf("renderer.path must start with /")
	}
	if c.Animation.FPS <= 0 {
		return fmt.Errorf("animation.fps must be positive")
	}
	if !animation.IsKnownEmotion(animation.Emotion(c.Animation.Emotion)) {
		return fmt.Errorf("animation.emotion %q is not a known emotion", c.Animation.Emotion)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
