// Package agent loads and validates the uplinkd configuration file.
package agent

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/uplinkd/internal/probe"
	"github.com/plexsphere/uplinkd/internal/reconcile"
	"github.com/plexsphere/uplinkd/internal/route"
	"github.com/plexsphere/uplinkd/internal/uplink"
)

const (
	// DefaultConfigPath is used when neither --config nor UPLINKD_CONFIG is set.
	DefaultConfigPath = "/etc/uplinkd/config.yaml"

	// ConfigEnv names the environment variable overriding the config path.
	ConfigEnv = "UPLINKD_CONFIG"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default data directory.
	DefaultDataDir = "/var/lib/uplinkd"

	// DefaultBackend is the default routing backend.
	DefaultBackend = route.KindFRR

	// MinCheckInterval is the shortest accepted per-interface check interval.
	MinCheckInterval = time.Second
)

// AgentConfig is the top-level configuration for uplinkd. It is populated
// from a YAML configuration file via ParseConfig.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory holding the status snapshot.
	// Default: /var/lib/uplinkd
	DataDir string `yaml:"data_dir"`

	Routing    RoutingConfig     `yaml:"routing"`
	Probe      ProbeConfig       `yaml:"probe"`
	Reconcile  reconcile.Config  `yaml:"reconcile"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`

	// Auto, when set, monitors every system interface not listed in
	// Interfaces with these parameters.
	Auto *AutoConfig `yaml:"auto"`
}

// RoutingConfig selects and tunes the route backend.
type RoutingConfig struct {
	// Backend is "frr" or "kernel".
	// Default: "frr"
	Backend string `yaml:"backend"`

	VtyshPath      string        `yaml:"vtysh_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	VerifyAttempts uint          `yaml:"verify_attempts"`

	// WithdrawOnShutdown removes every route installed by this process
	// when it stops. Default: false (routes are left in place)
	WithdrawOnShutdown bool `yaml:"withdraw_on_shutdown"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *RoutingConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	frr := c.FRR()
	frr.ApplyDefaults()
	c.VtyshPath = frr.VtyshPath
	c.CommandTimeout = frr.CommandTimeout
	c.VerifyAttempts = frr.VerifyAttempts
}

// Validate checks that the backend is known.
func (c *RoutingConfig) Validate() error {
	switch c.Backend {
	case route.KindFRR, route.KindKernel:
	default:
		return fmt.Errorf("agent: config: invalid routing backend %q (must be %q or %q)", c.Backend, route.KindFRR, route.KindKernel)
	}
	if c.CommandTimeout < 0 {
		return errors.New("agent: config: routing.command_timeout must not be negative")
	}
	return nil
}

// FRR returns the FRR backend configuration.
func (c *RoutingConfig) FRR() route.FRRConfig {
	return route.FRRConfig{
		VtyshPath:      c.VtyshPath,
		CommandTimeout: c.CommandTimeout,
		VerifyAttempts: c.VerifyAttempts,
	}
}

// ProbeConfig tunes the liveness probe shared by all interfaces.
type ProbeConfig struct {
	// Port is the TCP port probed on the target. Default: 80
	Port int `yaml:"port"`

	// Timeout bounds the wait for an answer to one probe. Default: 1s
	Timeout time.Duration `yaml:"timeout"`

	// ReachableOnly restricts candidate gateways to REACHABLE neighbors.
	ReachableOnly bool `yaml:"reachable_only"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *ProbeConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = probe.DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = probe.DefaultTimeout
	}
}

// Validate checks port range and timeout.
func (c *ProbeConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("agent: config: probe.port %d out of range 1..65535", c.Port)
	}
	if c.Timeout <= 0 {
		return errors.New("agent: config: probe.timeout must be positive")
	}
	return nil
}

// InterfaceConfig describes one monitored uplink.
type InterfaceConfig struct {
	Name          string        `yaml:"name"`
	Metric        int           `yaml:"metric"`
	CheckInterval time.Duration `yaml:"check_interval"`
	TargetIP      string        `yaml:"target_ip"`
}

// AutoConfig holds the parameters applied to discovered interfaces.
type AutoConfig struct {
	Metric        int           `yaml:"metric"`
	CheckInterval time.Duration `yaml:"check_interval"`
	TargetIP      string        `yaml:"target_ip"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.Routing.ApplyDefaults()
	c.Probe.ApplyDefaults()
	c.Reconcile.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
// Whether at least one interface remains after auto discovery is checked by
// Uplinks.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log_level %q", c.LogLevel)
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := c.Probe.Validate(); err != nil {
		return err
	}
	if err := c.Reconcile.Validate(); err != nil {
		return err
	}
	if len(c.Interfaces) == 0 && c.Auto == nil {
		return errors.New("agent: config: no interfaces defined")
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for i, ic := range c.Interfaces {
		if ic.Name == "" {
			return fmt.Errorf("agent: config: interfaces[%d]: name is required", i)
		}
		if ic.Name == "auto" {
			return fmt.Errorf("agent: config: interfaces[%d]: %q is reserved, use the auto section", i, ic.Name)
		}
		if seen[ic.Name] {
			return fmt.Errorf("agent: config: interfaces[%d]: duplicate interface %q", i, ic.Name)
		}
		seen[ic.Name] = true
		if err := c.Routing.validateMetric(ic.Metric); err != nil {
			return fmt.Errorf("agent: config: interface %s: %w", ic.Name, err)
		}
		if err := validateParams(ic.CheckInterval, ic.TargetIP); err != nil {
			return fmt.Errorf("agent: config: interface %s: %w", ic.Name, err)
		}
	}
	if c.Auto != nil {
		if err := c.Routing.validateMetric(c.Auto.Metric); err != nil {
			return fmt.Errorf("agent: config: auto: %w", err)
		}
		if err := validateParams(c.Auto.CheckInterval, c.Auto.TargetIP); err != nil {
			return fmt.Errorf("agent: config: auto: %w", err)
		}
	}
	return nil
}

// Metric bounds per backend. FRR takes the metric as the static route's
// administrative distance (1-255); the kernel stores a 32-bit priority.
const (
	minFRRMetric    = 1
	maxFRRMetric    = 255
	maxKernelMetric = math.MaxUint32
)

func (c *RoutingConfig) validateMetric(metric int) error {
	lo, hi := int64(0), int64(maxKernelMetric)
	if c.Backend == route.KindFRR {
		lo, hi = minFRRMetric, maxFRRMetric
	}
	if m := int64(metric); m < lo || m > hi {
		return fmt.Errorf("metric %d out of range %d-%d for the %s backend", metric, lo, hi, c.Backend)
	}
	return nil
}

func validateParams(interval time.Duration, target string) error {
	if interval < MinCheckInterval {
		return fmt.Errorf("check_interval %v must be at least %v", interval, MinCheckInterval)
	}
	addr, err := netip.ParseAddr(target)
	if err != nil {
		return fmt.Errorf("target_ip: %w", err)
	}
	if !addr.Is4() {
		return fmt.Errorf("target_ip %s is not an IPv4 address", target)
	}
	return nil
}

// LinkLister enumerates the system's network interfaces.
type LinkLister interface {
	LinkNames() ([]string, error)
}

// Uplinks returns the monitored interfaces: the explicitly configured ones in
// file order, followed by discovered ones when Auto is set. links may be nil
// when Auto is not set.
func (c *AgentConfig) Uplinks(links LinkLister) ([]uplink.Interface, error) {
	out := make([]uplink.Interface, 0, len(c.Interfaces))
	configured := make(map[string]bool, len(c.Interfaces))
	for _, ic := range c.Interfaces {
		out = append(out, c.toUplink(ic.Name, ic.Metric, ic.CheckInterval, ic.TargetIP))
		configured[ic.Name] = true
	}

	if c.Auto != nil {
		if links == nil {
			return nil, errors.New("agent: config: auto discovery is not available")
		}
		names, err := links.LinkNames()
		if err != nil {
			return nil, fmt.Errorf("agent: config: list system interfaces: %w", err)
		}
		discovered := SystemInterfaces(names)
		if len(discovered) == 0 {
			return nil, errors.New("agent: config: auto configuration specified but no system interfaces found")
		}
		for _, name := range discovered {
			if configured[name] {
				continue
			}
			out = append(out, c.toUplink(name, c.Auto.Metric, c.Auto.CheckInterval, c.Auto.TargetIP))
		}
	}

	if len(out) == 0 {
		return nil, errors.New("agent: config: no interfaces defined")
	}
	return out, nil
}

// toUplink assumes the parameters passed Validate.
func (c *AgentConfig) toUplink(name string, metric int, interval time.Duration, target string) uplink.Interface {
	return uplink.Interface{
		Name:          name,
		Metric:        metric,
		CheckInterval: interval,
		TargetIP:      netip.MustParseAddr(target),
		TargetPort:    uint16(c.Probe.Port),
		ProbeTimeout:  c.Probe.Timeout,
	}
}

// SystemInterfaces drops the loopback and veth pairs from names.
func SystemInterfaces(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "lo" || strings.HasPrefix(n, "veth") {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ConfigPath resolves the configuration file path: flag, then environment,
// then DefaultConfigPath.
func ConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(ConfigEnv); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
