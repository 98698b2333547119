package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCAN2CLOUD_"

// envOverrides mirrors the settings that may be overridden from the
// environment. Zero values mean "not set".
type envOverrides struct {
	TargetFrame        string        `env:"TARGET_FRAME"`
	WaitTimeout        time.Duration `env:"TRANSFORM_WAIT_TIMEOUT"`
	LookupErrorBackoff time.Duration `env:"LOOKUP_ERROR_BACKOFF"`
	BufferDepth        int           `env:"INBOUND_BUFFER_DEPTH"`
	ScanListen         string        `env:"SCAN_LISTEN"`
	TransformListen    string        `env:"TRANSFORM_LISTEN"`
	CloudForward       string        `env:"CLOUD_FORWARD"`
	GRPCListen         string        `env:"GRPC_LISTEN"`
	AdminListen        string        `env:"ADMIN_LISTEN"`
	SerialPort         string        `env:"SERIAL_PORT"`
}

// ApplyEnv overlays SCAN2CLOUD_* variables onto c and re-validates. A nil
// environ reads the process environment.
func (c *ConverterConfig) ApplyEnv(environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	setDuration := func(dst **string, v time.Duration) {
		if v != 0 {
			s := v.String()
			*dst = &s
		}
	}

	setString(&c.TargetFrame, o.TargetFrame)
	setDuration(&c.WaitTimeout, o.WaitTimeout)
	setDuration(&c.LookupErrorBackoff, o.LookupErrorBackoff)
	if o.BufferDepth != 0 {
		c.BufferDepth = &o.BufferDepth
	}
	setString(&c.ScanListen, o.ScanListen)
	setString(&c.TransformListen, o.TransformListen)
	setString(&c.CloudForward, o.CloudForward)
	setString(&c.GRPCListen, o.GRPCListen)
	setString(&c.AdminListen, o.AdminListen)
	setString(&c.SerialPort, o.SerialPort)

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration after env overrides: %w", err)
	}
	return nil
}
