package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/simcore/internal/core/network"
)

type Role string

const (
	RoleOffline Role = "offline"
	RoleHost    Role = "host"
	RoleClient  Role = "client"
)

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportQUIC      Transport = "quic"
)

// Config is the runtime configuration of one simcore process.
type Config struct {
	Simulation Simulation `yaml:"simulation"`
	State      State      `yaml:"state"`
	Network    Network    `yaml:"network"`
	Log        Log        `yaml:"log"`
	Profile    Profile    `yaml:"profile"`
}

type Simulation struct {
	// Timestep is the fixed simulation step.
	Timestep time.Duration `yaml:"timestep"`
	// Budget bounds the wall time spent catching up in one frame.
	Budget time.Duration `yaml:"budget"`
	// FrameRate is how often the headless runtime calls Execute.
	FrameRate int `yaml:"frame_rate"`
}

type State struct {
	Namespace string `yaml:"namespace"`
	// File is the persistence file. Empty keeps persisted state in memory.
	File string `yaml:"file"`
}

type Network struct {
	Role          Role          `yaml:"role"`
	Transport     Transport     `yaml:"transport"`
	Address       string        `yaml:"address"`
	Path          string        `yaml:"path"`
	// PeerID requests a peer id. Empty lets a host pick one.
	PeerID        string        `yaml:"peer_id"`
	UserID        string        `yaml:"user_id"`
	UserName      string        `yaml:"user_name"`
	ClaimPolicy   string        `yaml:"claim_policy"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Profile struct {
	// Mode is off, cpu or mem.
	Mode string `yaml:"mode"`
	Dir  string `yaml:"dir"`
}

func Default() Config {
	return Config{
		Simulation: Simulation{
			Timestep:  time.Second / 60,
			Budget:    8 * time.Millisecond,
			FrameRate: 60,
		},
		State: State{Namespace: "simcore"},
		Network: Network{
			Role:          RoleOffline,
			Transport:     TransportWebSocket,
			Address:       "127.0.0.1:7400",
			Path:          "/simcore",
			UserID:        "local",
			UserName:      "local",
			ClaimPolicy:   "last_applied_wins",
			FlushInterval: 10 * time.Millisecond,
		},
		Log:     Log{Level: "info"},
		Profile: Profile{Mode: "off", Dir: "."},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML decodes r over the defaults and validates the result. An empty
// document yields the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Simulation.Timestep <= 0 {
		errs = append(errs, fmt.Errorf("simulation.timestep must be positive, got %s", c.Simulation.Timestep))
	}
	if c.Simulation.Budget < 0 {
		errs = append(errs, fmt.Errorf("simulation.budget must not be negative, got %s", c.Simulation.Budget))
	}
	if c.Simulation.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("simulation.frame_rate must be positive, got %d", c.Simulation.FrameRate))
	}

	switch c.Network.Role {
	case RoleOffline, RoleHost, RoleClient:
	default:
		errs = append(errs, fmt.Errorf("network.role %q is not one of offline, host, client", c.Network.Role))
	}
	switch c.Network.Transport {
	case TransportWebSocket, TransportQUIC:
	default:
		errs = append(errs, fmt.Errorf("network.transport %q is not one of websocket, quic", c.Network.Transport))
	}
	if c.Network.Role != RoleOffline && c.Network.Address == "" {
		errs = append(errs, errors.New("network.address is required when networked"))
	}
	if _, err := network.ParseClaimPolicy(c.Network.ClaimPolicy); err != nil {
		errs = append(errs, fmt.Errorf("network.claim_policy: %w", err))
	}
	if c.Network.UserID == "" {
		errs = append(errs, errors.New("network.user_id is required"))
	}

	switch c.Profile.Mode {
	case "", "off", "cpu", "mem":
	default:
		errs = append(errs, fmt.Errorf("profile.mode %q is not one of off, cpu, mem", c.Profile.Mode))
	}
	return errors.Join(errs...)
}

// FrameInterval is the wall time between frames.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Simulation.FrameRate)
}
