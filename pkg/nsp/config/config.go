// Package config loads Engine tunables and listener registrations from an
// ini-format configuration file.
package config

import (
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/Jarek-Egger/godecnet/pkg/nsp"
)

// ListenerSpec is one [listener] section of the configuration file.
type ListenerSpec struct {
	Name      string
	Number    uint8
	AcceptCap int
}

// File is a parsed configuration file: engine tunables plus the listener
// registrations to install at startup.
type File struct {
	Engine    nsp.Config
	listeners []ListenerSpec
}

// Listeners returns the listener sections declared in the file.
func (f *File) Listeners() []ListenerSpec { return f.listeners }

// Load parses path as an ini file with a [engine] section and zero or more
// [listener "name"] sections.
func Load(path string) (*File, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return load(cfg)
}

// LoadBytes is Load for an in-memory buffer, for tests.
func LoadBytes(data []byte) (*File, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	return load(cfg)
}

func load(cfg *ini.File) (*File, error) {
	f := &File{Engine: nsp.DefaultConfig()}

	if cfg.HasSection("engine") {
		sec := cfg.Section("engine")
		if err := applyEngineSection(&f.Engine, sec); err != nil {
			return nil, err
		}
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if !isListenerSection(name) {
			continue
		}
		spec, err := parseListenerSection(sec)
		if err != nil {
			return nil, err
		}
		f.listeners = append(f.listeners, spec)
	}

	return f, nil
}

func isListenerSection(name string) bool {
	return len(name) > 9 && name[:9] == "listener "
}

func parseListenerSection(sec *ini.Section) (ListenerSpec, error) {
	spec := ListenerSpec{
		Name:      sec.Key("name").MustString(""),
		AcceptCap: sec.Key("accept_queue").MustInt(8),
	}
	if number := sec.Key("number").String(); number != "" {
		n, err := strconv.ParseUint(number, 0, 8)
		if err != nil {
			return spec, err
		}
		spec.Number = uint8(n)
	}
	return spec, nil
}

func applyEngineSection(cfg *nsp.Config, sec *ini.Section) error {
	if sec.HasKey("log_martians") {
		cfg.LogMartians = sec.Key("log_martians").MustBool(cfg.LogMartians)
	}
	if sec.HasKey("segbufsize") {
		cfg.Segbufsize = sec.Key("segbufsize").MustInt(cfg.Segbufsize)
	}
	if sec.HasKey("no_fc_max_cwnd") {
		cfg.NoFCMaxCwnd = int32(sec.Key("no_fc_max_cwnd").MustInt(int(cfg.NoFCMaxCwnd)))
	}
	if sec.HasKey("outgoing_timer") {
		d, err := parseDuration(sec.Key("outgoing_timer").String(), cfg.OutgoingTimer)
		if err != nil {
			return err
		}
		cfg.OutgoingTimer = d
	}
	if sec.HasKey("ack_delay") {
		d, err := parseDuration(sec.Key("ack_delay").String(), cfg.AckDelay)
		if err != nil {
			return err
		}
		cfg.AckDelay = d
	}
	if sec.HasKey("destroy_delay") {
		d, err := parseDuration(sec.Key("destroy_delay").String(), cfg.DestroyDelay)
		if err != nil {
			return err
		}
		cfg.DestroyDelay = d
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
