package controller

import (
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/session"
	"github.com/TheCacophonyProject/walkingpad-controller/internal/web"
)

const padConfigKey = "walkingpad"

type PadConfig struct {
	DeviceName     string        `mapstructure:"device-name"`
	Adapter        string        `mapstructure:"adapter"`
	HTTPAddress    string        `mapstructure:"http-address"`
	ConnectOnStart bool          `mapstructure:"connect-on-start"`
	MinSpeedKmh    float64       `mapstructure:"min-speed-kmh"`
	MaxSpeedKmh    float64       `mapstructure:"max-speed-kmh"`
	ResumeKmh      float64       `mapstructure:"resume-speed-kmh"`
	SpeedStepKmh   float64       `mapstructure:"speed-step-kmh"`
	SlowWalkKmh    float64       `mapstructure:"slow-walk-kmh"`
	StableKmh      float64       `mapstructure:"stable-speed-kmh"`
	HistorySize    int           `mapstructure:"history-size"`
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	ResumeGrace    time.Duration `mapstructure:"resume-grace"`
	CommandTimeout time.Duration `mapstructure:"command-timeout"`
}

func DefaultPadConfig() PadConfig {
	s := session.DefaultConfig()
	w := web.DefaultConfig()
	return PadConfig{
		DeviceName:     s.DeviceName,
		Adapter:        "hci0",
		HTTPAddress:    w.Address,
		ConnectOnStart: true,
		MinSpeedKmh:    s.MinSpeedKmh,
		MaxSpeedKmh:    s.MaxSpeedKmh,
		ResumeKmh:      s.DefaultResumeKmh,
		SpeedStepKmh:   w.StepKmh,
		SlowWalkKmh:    w.SlowWalkKmh,
		StableKmh:      s.StableSpeedKmh,
		HistorySize:    s.HistorySize,
		PollInterval:   s.PollInterval,
		ResumeGrace:    s.ResumeGrace,
		CommandTimeout: s.CommandTimeout,
	}
}

func ParsePadConfig(configDir string) (*PadConfig, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}

	c := DefaultPadConfig()
	if err := conf.Unmarshal(padConfigKey, &c); err != nil {
		return nil, err
	}
	if err := c.Session().Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Session returns the controller settings, defaults filling anything not configured.
func (c *PadConfig) Session() session.Config {
	s := session.DefaultConfig()
	s.DeviceName = c.DeviceName
	s.MinSpeedKmh = c.MinSpeedKmh
	s.MaxSpeedKmh = c.MaxSpeedKmh
	s.DefaultResumeKmh = c.ResumeKmh
	s.StableSpeedKmh = c.StableKmh
	s.HistorySize = c.HistorySize
	s.PollInterval = c.PollInterval
	s.ResumeGrace = c.ResumeGrace
	s.CommandTimeout = c.CommandTimeout
	return s
}

func (c *PadConfig) Web() web.Config {
	w := web.DefaultConfig()
	w.Address = c.HTTPAddress
	w.StepKmh = c.SpeedStepKmh
	w.SlowWalkKmh = c.SlowWalkKmh
	w.MaxKmh = c.MaxSpeedKmh
	return w
}
