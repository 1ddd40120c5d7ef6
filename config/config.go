// Package config holds the tunables of the transport engine and the
// demo programs: protocol parameters, fault-injection rates, timeout
// bounds and logging options, loaded from YAML with sane defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/CREVIOS/Computer-Networking/logger"
)

type Config struct {
	// Congestion control variant, "tahoe" or "reno".
	Mode string `yaml:"mode"`

	MSS             int `yaml:"mss"`
	WindowSize      int `yaml:"windowSize"`
	InitialSsthresh int `yaml:"initialSsthresh"`

	// Fault injection on the data send path.
	LossRate           float64 `yaml:"lossRate"`
	CorruptionRate     float64 `yaml:"corruptionRate"`
	LossWarmupSegments int     `yaml:"lossWarmupSegments"`
	FaultSeed          int64   `yaml:"faultSeed"` // 0 seeds from the clock

	RetryLimit         int `yaml:"retryLimit"`
	RtoInitialMs       int `yaml:"rtoInitialMs"`
	RtoMinMs           int `yaml:"rtoMinMs"`
	RtoMaxMs           int `yaml:"rtoMaxMs"`
	AckPollMs          int `yaml:"ackPollMs"`
	ReadTimeoutMs      int `yaml:"readTimeoutMs"`
	HandshakeTimeoutMs int `yaml:"handshakeTimeoutMs"`
	FinWaitMs          int `yaml:"finWaitMs"`
	IdleTimeoutMs      int `yaml:"idleTimeoutMs"`

	ReceiveBufferPackets int `yaml:"receiveBufferPackets"`

	PayloadPoolSize        int  `yaml:"payloadPoolSize"`
	PoolDebug              bool `yaml:"poolDebug"`
	ProcessTimeThresholdMs int  `yaml:"processTimeThresholdMs"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
}

func DefaultConfig() *Config {
	return &Config{
		Mode:                   "reno",
		MSS:                    1460,
		WindowSize:             65536,
		InitialSsthresh:        65536,
		LossRate:               0.02,
		CorruptionRate:         0.0,
		LossWarmupSegments:     5,
		FaultSeed:              0,
		RetryLimit:             5,
		RtoInitialMs:           1000,
		RtoMinMs:               100,
		RtoMaxMs:               2000,
		AckPollMs:              100,
		ReadTimeoutMs:          500,
		HandshakeTimeoutMs:     5000,
		FinWaitMs:              5000,
		IdleTimeoutMs:          30000,
		ReceiveBufferPackets:   20,
		PayloadPoolSize:        2048,
		PoolDebug:              false,
		ProcessTimeThresholdMs: 5,
		LogLevel:               "info",
		LogFile:                "",
	}
}

// LoadConfig reads the YAML file at path over the defaults. A missing
// file is not an error: the defaults are returned as-is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "tahoe", "reno":
	default:
		return errors.Errorf("mode must be tahoe or reno, got %q", c.Mode)
	}
	if c.MSS <= 0 || c.MSS > 65536 {
		return errors.Errorf("mss must be in (0, 65536], got %d", c.MSS)
	}
	if c.WindowSize < c.MSS {
		return errors.Errorf("windowSize %d is smaller than mss %d", c.WindowSize, c.MSS)
	}
	if c.LossRate < 0 || c.LossRate >= 1 {
		return errors.Errorf("lossRate must be in [0, 1), got %f", c.LossRate)
	}
	if c.CorruptionRate < 0 || c.CorruptionRate >= 1 {
		return errors.Errorf("corruptionRate must be in [0, 1), got %f", c.CorruptionRate)
	}
	if c.RetryLimit < 0 {
		return errors.Errorf("retryLimit must not be negative, got %d", c.RetryLimit)
	}
	if c.RtoMinMs <= 0 || c.RtoMaxMs < c.RtoMinMs {
		return errors.Errorf("rto bounds invalid: min=%dms max=%dms", c.RtoMinMs, c.RtoMaxMs)
	}
	if c.RtoInitialMs < c.RtoMinMs || c.RtoInitialMs > c.RtoMaxMs {
		return errors.Errorf("rtoInitialMs %d outside [%d, %d]", c.RtoInitialMs, c.RtoMinMs, c.RtoMaxMs)
	}
	if c.ReceiveBufferPackets <= 0 {
		return errors.Errorf("receiveBufferPackets must be positive, got %d", c.ReceiveBufferPackets)
	}
	if c.PayloadPoolSize <= 0 {
		return errors.Errorf("payloadPoolSize must be positive, got %d", c.PayloadPoolSize)
	}
	return nil
}

func (c *Config) RtoInitial() time.Duration {
	return time.Duration(c.RtoInitialMs) * time.Millisecond
}

func (c *Config) RtoMin() time.Duration {
	return time.Duration(c.RtoMinMs) * time.Millisecond
}

func (c *Config) RtoMax() time.Duration {
	return time.Duration(c.RtoMaxMs) * time.Millisecond
}

func (c *Config) AckPoll() time.Duration {
	return time.Duration(c.AckPollMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c *Config) FinWait() time.Duration {
	return time.Duration(c.FinWaitMs) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// Watch reloads the file whenever it is rewritten and hands the fresh
// config to onChange. The returned stop function ends the watch.
func Watch(path string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					logger.Warnf("config reload skipped: %s", err)
					continue
				}
				logger.Infof("config reloaded from %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("config watcher: %s", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
