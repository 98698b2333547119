// Package config loads the converter's JSON configuration file and applies
// SCAN2CLOUD_* environment overrides on top of it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/dispatch"
	"github.com/banshee-data/scan2cloud/internal/lidar/gate"
	"github.com/banshee-data/scan2cloud/internal/lidar/network"
	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
)

// DefaultConfigPath is the path to the canonical converter defaults file.
const DefaultConfigPath = "config/converter.defaults.json"

// ConverterConfig holds every runtime setting. Nil fields fall back to the
// defaults returned by the Get* methods, so partial files are safe.
type ConverterConfig struct {
	TargetFrame        *string `json:"target_frame,omitempty"`
	WaitTimeout        *string `json:"transform_wait_timeout,omitempty"` // duration string like "1s"
	LookupErrorBackoff *string `json:"lookup_error_backoff,omitempty"`   // duration string like "1s"
	BufferDepth        *int    `json:"inbound_buffer_depth,omitempty"`
	CacheDuration      *string `json:"cache_duration,omitempty"`
	StatsInterval      *string `json:"stats_interval,omitempty"`

	ScanListen      *string `json:"scan_listen,omitempty"`
	TransformListen *string `json:"transform_listen,omitempty"`
	RcvBuf          *int    `json:"rcv_buf,omitempty"`
	CloudForward    *string `json:"cloud_forward,omitempty"` // empty disables UDP forwarding
	ForwardQueue    *int    `json:"forward_queue,omitempty"`
	GRPCListen      *string `json:"grpc_listen,omitempty"` // empty disables the cloud stream
	AdminListen     *string `json:"admin_listen,omitempty"`

	SerialPort    *string              `json:"serial_port,omitempty"`
	SerialOptions *network.PortOptions `json:"serial_options,omitempty"`

	StaticTransforms []StaticTransform `json:"static_transforms,omitempty"`
}

// UnmarshalJSON accepts wait_timeout and buffer_depth as aliases of
// transform_wait_timeout and inbound_buffer_depth. The long keys win when
// both are present.
func (c *ConverterConfig) UnmarshalJSON(data []byte) error {
	type plain ConverterConfig
	aux := struct {
		*plain
		WaitTimeoutAlias *string `json:"wait_timeout"`
		BufferDepthAlias *int    `json:"buffer_depth"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.WaitTimeout == nil {
		c.WaitTimeout = aux.WaitTimeoutAlias
	}
	if c.BufferDepth == nil {
		c.BufferDepth = aux.BufferDepthAlias
	}
	return nil
}

// StaticTransform is a fixed mount, e.g. the laser on the vehicle body.
// Exactly one of Rotation (quaternion x, y, z, w) or RPY (radians) may be
// set; neither means no rotation.
type StaticTransform struct {
	Parent      string      `json:"parent"`
	Child       string      `json:"child"`
	Translation [3]float64  `json:"translation"`
	Rotation    *[4]float64 `json:"rotation,omitempty"`
	RPY         *[3]float64 `json:"rpy,omitempty"`
}

// Stamped converts the entry into a transform suitable for
// tf.Buffer.SetStatic.
func (s StaticTransform) Stamped() (tf.StampedTransform, error) {
	st := tf.StampedTransform{Parent: s.Parent, Child: s.Child}
	tx, ty, tz := s.Translation[0], s.Translation[1], s.Translation[2]
	switch {
	case s.Rotation != nil && s.RPY != nil:
		return st, fmt.Errorf("static transform %s->%s: set rotation or rpy, not both", s.Parent, s.Child)
	case s.Rotation != nil:
		q := *s.Rotation
		t, err := tf.NewTransform(tx, ty, tz, q[0], q[1], q[2], q[3])
		if err != nil {
			return st, fmt.Errorf("static transform %s->%s: %w", s.Parent, s.Child, err)
		}
		st.Transform = t
	case s.RPY != nil:
		r := *s.RPY
		st.Transform = tf.FromRPY(tx, ty, tz, r[0], r[1], r[2])
	default:
		t, err := tf.NewTransform(tx, ty, tz, 0, 0, 0, 1)
		if err != nil {
			return st, fmt.Errorf("static transform %s->%s: %w", s.Parent, s.Child, err)
		}
		st.Transform = t
	}
	return st, nil
}

// EmptyConverterConfig returns a ConverterConfig with all fields unset.
func EmptyConverterConfig() *ConverterConfig {
	return &ConverterConfig{}
}

// LoadConverterConfig loads a ConverterConfig from a JSON file. The file
// must have a .json extension and be under 1MB.
func LoadConverterConfig(path string) (*ConverterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConverterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the
// file cannot be loaded and is intended for test setup.
func MustLoadDefaultConfig() *ConverterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/*/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConverterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set field holds a usable value.
func (c *ConverterConfig) Validate() error {
	if c.TargetFrame != nil && scan.NormalizeFrame(*c.TargetFrame) == "" {
		return fmt.Errorf("target_frame must name a frame, got %q", *c.TargetFrame)
	}

	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"transform_wait_timeout", c.WaitTimeout, true},
		{"lookup_error_backoff", c.LookupErrorBackoff, false},
		{"cache_duration", c.CacheDuration, true},
		{"stats_interval", c.StatsInterval, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	if c.BufferDepth != nil && *c.BufferDepth < 1 {
		return fmt.Errorf("inbound_buffer_depth must be at least 1, got %d", *c.BufferDepth)
	}
	if c.ForwardQueue != nil && *c.ForwardQueue < 1 {
		return fmt.Errorf("forward_queue must be at least 1, got %d", *c.ForwardQueue)
	}
	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}
	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}
	for _, s := range c.StaticTransforms {
		if _, err := s.Stamped(); err != nil {
			return err
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetTargetFrame returns the frame clouds are expressed in.
func (c *ConverterConfig) GetTargetFrame() string {
	return stringOr(c.TargetFrame, gate.DefaultConfig().TargetFrame)
}

// GetWaitTimeout returns how long a scan may wait for its transforms.
func (c *ConverterConfig) GetWaitTimeout() time.Duration {
	return durationOr(c.WaitTimeout, gate.DefaultConfig().WaitTimeout)
}

// GetLookupErrorBackoff returns the pause after an irrecoverable lookup
// error.
func (c *ConverterConfig) GetLookupErrorBackoff() time.Duration {
	return durationOr(c.LookupErrorBackoff, gate.DefaultConfig().LookupErrorBackoff)
}

// GetBufferDepth returns the scan inbox depth.
func (c *ConverterConfig) GetBufferDepth() int {
	return intOr(c.BufferDepth, dispatch.DefaultBufferDepth)
}

// GetCacheDuration returns how much transform history is retained.
func (c *ConverterConfig) GetCacheDuration() time.Duration {
	return durationOr(c.CacheDuration, tf.DefaultCacheDuration)
}

// GetStatsInterval returns the period of the stats log line; zero
// disables it.
func (c *ConverterConfig) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, time.Minute)
}

// GetScanListen returns the UDP address scans arrive on.
func (c *ConverterConfig) GetScanListen() string { return stringOr(c.ScanListen, ":7400") }

// GetTransformListen returns the UDP address transform batches arrive on.
func (c *ConverterConfig) GetTransformListen() string { return stringOr(c.TransformListen, ":7401") }

// GetRcvBuf returns the UDP receive buffer size in bytes.
func (c *ConverterConfig) GetRcvBuf() int { return intOr(c.RcvBuf, 4<<20) }

// GetCloudForward returns the UDP destination for clouds, or "".
func (c *ConverterConfig) GetCloudForward() string { return stringOr(c.CloudForward, "") }

// GetForwardQueue returns the forwarder queue depth.
func (c *ConverterConfig) GetForwardQueue() int {
	return intOr(c.ForwardQueue, network.DefaultForwardQueue)
}

// GetGRPCListen returns the cloud stream address, or "".
func (c *ConverterConfig) GetGRPCListen() string { return stringOr(c.GRPCListen, "") }

// GetAdminListen returns the debug HTTP address, or "".
func (c *ConverterConfig) GetAdminListen() string {
	return stringOr(c.AdminListen, "localhost:7480")
}

// GetSerialPort returns the serial device scans are read from, or "".
func (c *ConverterConfig) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetSerialOptions returns the serial line settings.
func (c *ConverterConfig) GetSerialOptions() network.PortOptions {
	if c.SerialOptions == nil {
		return network.PortOptions{}
	}
	return *c.SerialOptions
}

// GateConfig builds the gate's wait policy.
func (c *ConverterConfig) GateConfig() gate.Config {
	return gate.Config{
		TargetFrame:        c.GetTargetFrame(),
		WaitTimeout:        c.GetWaitTimeout(),
		LookupErrorBackoff: c.GetLookupErrorBackoff(),
	}
}

// StaticTransformList converts the static_transforms entries.
func (c *ConverterConfig) StaticTransformList() ([]tf.StampedTransform, error) {
	out := make([]tf.StampedTransform, 0, len(c.StaticTransforms))
	for _, s := range c.StaticTransforms {
		st, err := s.Stamped()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
