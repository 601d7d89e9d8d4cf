// Loading of hardware interface descriptions from ini files.
//
// Example :
//
//	[interface]
//	periodic_update_interval_ms = 4
//
//	[channel.0]
//	driver = socketcan
//	endpoint = can0
//
//	[channel.1]
//	driver = virtual
//	endpoint = localhost:18888
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openagritech/canhal/pkg/driver"
	"github.com/openagritech/canhal/pkg/hardware"
	"gopkg.in/ini.v1"
)

// Channel describes one CAN channel : which driver kind to use and the
// endpoint handed to its factory
type Channel struct {
	Driver   string
	Endpoint string
}

type Config struct {
	PeriodicUpdateInterval time.Duration
	Channels               []Channel
}

// Load parses an interface description.
// Channel sections must be named channel.N with contiguous indexes
// starting at 0.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{PeriodicUpdateInterval: hardware.DefaultPeriodicUpdateInterval}
	if section := file.Section("interface"); section.HasKey("periodic_update_interval_ms") {
		ms, err := section.Key("periodic_update_interval_ms").Int()
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid periodic_update_interval_ms : %v", section.Key("periodic_update_interval_ms").String())
		}
		cfg.PeriodicUpdateInterval = time.Duration(ms) * time.Millisecond
	}
	channels := map[int]Channel{}
	for _, section := range file.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, "channel.") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "channel."))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid channel section : %v", name)
		}
		kind := section.Key("driver").String()
		if kind == "" {
			return nil, fmt.Errorf("channel %v has no driver", index)
		}
		channels[index] = Channel{
			Driver:   kind,
			Endpoint: section.Key("endpoint").String(),
		}
	}
	cfg.Channels = make([]Channel, len(channels))
	for index, channel := range channels {
		if index >= len(cfg.Channels) {
			return nil, fmt.Errorf("channel indexes are not contiguous, missing channel below %v", index)
		}
		cfg.Channels[index] = channel
	}
	return cfg, nil
}

// Apply configures a stopped hardware interface from the description :
// sets the channel count, builds each driver via the registry and assigns it
func (cfg *Config) Apply(iface *hardware.Interface) error {
	iface.SetPeriodicUpdateInterval(cfg.PeriodicUpdateInterval)
	if err := iface.SetChannelCount(len(cfg.Channels)); err != nil {
		return err
	}
	for index, channel := range cfg.Channels {
		drv, err := driver.New(channel.Driver, channel.Endpoint)
		if err != nil {
			return fmt.Errorf("channel %v : %w", index, err)
		}
		if err := iface.AssignDriver(index, drv); err != nil {
			return fmt.Errorf("channel %v : %w", index, err)
		}
	}
	return nil
}
