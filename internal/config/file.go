package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"openfms/flic/internal/protocol"
)

// File is the YAML overlay. Empty fields leave the environment value alone.
//
//	flicd:
//	  host: 192.168.1.20
//	  port: 5551
//	gateway_id: livingroom
//	latency_mode: low
//	auto_disconnect_time: 60
//	info_poll_cron: "*/1 * * * *"
//	reconnect_delay: 10s
//	buttons:
//	  allow: ["80:e4:da:70:12:34"]
//	  names:
//	    "80:e4:da:70:12:34": Kitchen
type File struct {
	Flicd struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"flicd"`
	GatewayID          string        `yaml:"gateway_id"`
	LatencyMode        string        `yaml:"latency_mode"`
	AutoDisconnectTime *int          `yaml:"auto_disconnect_time"`
	InfoPollCron       string        `yaml:"info_poll_cron"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	DownlinkRatePerMin int           `yaml:"downlink_rate_per_min"`
	Buttons            ButtonsConfig `yaml:"buttons"`
}

// ButtonsConfig selects and labels the buttons the gateway manages.
type ButtonsConfig struct {
	// Allow lists the addresses to open channels for. Empty means every
	// verified button.
	Allow []string `yaml:"allow"`
	// Names are display names keyed by address.
	Names map[string]string `yaml:"names"`
}

// Allowed reports whether the gateway should manage addr.
func (b ButtonsConfig) Allowed(addr protocol.BdAddr) bool {
	if len(b.Allow) == 0 {
		return true
	}
	for _, s := range b.Allow {
		if a, err := protocol.ParseBdAddr(s); err == nil && a == addr {
			return true
		}
	}
	return false
}

// Name returns the configured display name for addr, or "".
func (b ButtonsConfig) Name(addr protocol.BdAddr) string {
	for k, v := range b.Names {
		if a, err := protocol.ParseBdAddr(k); err == nil && a == addr {
			return v
		}
	}
	return ""
}

func (b ButtonsConfig) validate() error {
	for _, s := range b.Allow {
		if _, err := protocol.ParseBdAddr(s); err != nil {
			return errors.Wrapf(err, "buttons.allow %q", s)
		}
	}
	for k := range b.Names {
		if _, err := protocol.ParseBdAddr(k); err != nil {
			return errors.Wrapf(err, "buttons.names %q", k)
		}
	}
	return nil
}

// LoadFile reads and validates a YAML overlay.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := f.Buttons.validate(); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &f, nil
}

// Apply copies the non-empty fields of f into c.
func (c *Config) Apply(f *File) error {
	if f.Flicd.Host != "" {
		c.FlicdHost = f.Flicd.Host
	}
	if f.Flicd.Port != 0 {
		c.FlicdPort = f.Flicd.Port
	}
	if f.GatewayID != "" {
		c.GatewayID = f.GatewayID
	}
	if f.LatencyMode != "" {
		mode, err := protocol.ParseLatencyMode(strings.TrimSpace(f.LatencyMode))
		if err != nil {
			return errors.Wrap(err, "latency_mode")
		}
		c.LatencyMode = mode
	}
	if f.AutoDisconnectTime != nil {
		c.AutoDisconnectTime = int16(*f.AutoDisconnectTime)
	}
	if f.InfoPollCron != "" {
		c.InfoPollCron = f.InfoPollCron
	}
	if f.ReconnectDelay > 0 {
		c.ReconnectDelay = f.ReconnectDelay
	}
	if f.DownlinkRatePerMin > 0 {
		c.DownlinkRatePerMin = f.DownlinkRatePerMin
	}
	c.Buttons = f.Buttons
	return nil
}
