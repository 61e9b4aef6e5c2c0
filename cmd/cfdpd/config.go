package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/engine"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/transport"
)

type config struct {
	// LogLevel is one of trace, debug, info, warn or error.
	LogLevel  string          `yaml:"log_level"`
	Engine    engineConfig    `yaml:"engine"`
	Transport transportConfig `yaml:"transport"`
}

type transportConfig struct {
	// Kind selects the transport: udp, serial or loopback.
	Kind     string                 `yaml:"kind"`
	UDP      transport.UDPConfig    `yaml:"udp"`
	Serial   transport.SerialConfig `yaml:"serial"`
	Loopback loopbackConfig         `yaml:"loopback"`
}

// loopbackConfig runs a second engine in process acting as the remote entity.
type loopbackConfig struct {
	PeerEID  cfdp.EntityID `yaml:"peer_eid"`
	TmpDir   string        `yaml:"tmp_dir"`
	QueueLen int           `yaml:"queue_len"`
}

// engineConfig decodes an [engine.Config] starting every channel from
// [engine.DefaultChannelConfig] so files only list the values they change.
type engineConfig engine.Config

func (ec *engineConfig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return errors.New("engine: expected mapping")
	}
	cfg := (*engine.Config)(ec)
	var channels *yaml.Node
	rest := *n
	rest.Content = nil
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "channels" {
			channels = n.Content[i+1]
			continue
		}
		rest.Content = append(rest.Content, n.Content[i], n.Content[i+1])
	}
	if err := rest.Decode(cfg); err != nil {
		return err
	}
	if channels == nil {
		return nil
	} else if channels.Kind != yaml.SequenceNode {
		return errors.New("engine: channels must be a sequence")
	}
	cfg.Channels = make([]engine.ChannelConfig, len(channels.Content))
	for i, cn := range channels.Content {
		cfg.Channels[i] = engine.DefaultChannelConfig()
		if err := cn.Decode(&cfg.Channels[i]); err != nil {
			return err
		}
	}
	return nil
}

func defaultConfig() config {
	return config{
		LogLevel: "info",
		Engine:   engineConfig(engine.DefaultConfig()),
		Transport: transportConfig{
			Kind: "loopback",
			UDP: transport.UDPConfig{
				Local:    "127.0.0.1:5234",
				Remotes:  []string{"127.0.0.1:5235"},
				MTU:      1500,
				QueueLen: 64,
			},
			Serial: transport.SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: 115200,
				Channels: 1,
				MTU:      512,
				QueueLen: 64,
			},
			Loopback: loopbackConfig{
				PeerEID:  2,
				TmpDir:   os.TempDir(),
				QueueLen: 64,
			},
		},
	}
}

// loadConfig reads the YAML configuration at path over the defaults.
// An empty path returns the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = decodeConfig(f, &cfg)
	return cfg, err
}

func decodeConfig(r io.Reader, cfg *config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	ecfg := (*engine.Config)(&cfg.Engine)
	return ecfg.Validate()
}

func parseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "trace") {
		return internal.LevelTrace, nil
	}
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(s))
	return lvl, err
}
