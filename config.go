package cants

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config holds the parameters needed to Start an Engine, loadable from a
// sectioned INI file.
type Config struct {
	Address          byte
	TimeoutMs        uint32
	DriverBackend    string
	NominalChannel   string
	RedundantChannel string

	TCMaxRetries uint8
	TMMaxRetries uint8

	SBMaxRetries       uint8
	SBReportDelayMs    uint32
	SBMaxReportRetries uint8

	GBMaxRetries      uint8
	GBMaxStartRetries uint8
}

// DefaultConfig mirrors the original's per-call default arguments
// (SendTC retry=0, ReceiveTM retry=3, SendBlock retry=3/report_delay_ms=20/
// report_retry=3, ReceiveBlock retry=3/start_retry=3).
func DefaultConfig() Config {
	return Config{
		TCMaxRetries:       DefaultTCMaxRetries,
		TMMaxRetries:       DefaultTMMaxRetries,
		SBMaxRetries:       DefaultSBMaxRetries,
		SBReportDelayMs:    DefaultReportDelayMs,
		SBMaxReportRetries: DefaultSBMaxReportRetries,
		GBMaxRetries:       DefaultGBMaxRetries,
		GBMaxStartRetries:  DefaultGBMaxStartRetries,
	}
}

// LoadConfig reads an INI file shaped like:
//
//	[cants]
//	address = 16
//	timeout_ms = 100
//	driver = virtual
//	nominal_channel = bus-a
//	redundant_channel = bus-b
//
//	[tc]
//	max_retries = 0
//
//	[sb]
//	max_retries = 3
//	report_delay_ms = 20
//	max_report_retries = 3
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("cants: loading config: %w", err)
	}

	main := file.Section("cants")
	cfg.Address = byte(main.Key("address").MustUint(0))
	cfg.TimeoutMs = uint32(main.Key("timeout_ms").MustUint(100))
	cfg.DriverBackend = main.Key("driver").MustString("virtual")
	cfg.NominalChannel = main.Key("nominal_channel").MustString("nominal")
	cfg.RedundantChannel = main.Key("redundant_channel").MustString("redundant")

	if file.HasSection("tc") {
		cfg.TCMaxRetries = byte(file.Section("tc").Key("max_retries").MustUint(uint(cfg.TCMaxRetries)))
	}
	if file.HasSection("tm") {
		cfg.TMMaxRetries = byte(file.Section("tm").Key("max_retries").MustUint(uint(cfg.TMMaxRetries)))
	}
	if file.HasSection("sb") {
		sb := file.Section("sb")
		cfg.SBMaxRetries = byte(sb.Key("max_retries").MustUint(uint(cfg.SBMaxRetries)))
		cfg.SBReportDelayMs = uint32(sb.Key("report_delay_ms").MustUint(uint(cfg.SBReportDelayMs)))
		cfg.SBMaxReportRetries = byte(sb.Key("max_report_retries").MustUint(uint(cfg.SBMaxReportRetries)))
	}
	if file.HasSection("gb") {
		gb := file.Section("gb")
		cfg.GBMaxRetries = byte(gb.Key("max_retries").MustUint(uint(cfg.GBMaxRetries)))
		cfg.GBMaxStartRetries = byte(gb.Key("max_start_retries").MustUint(uint(cfg.GBMaxStartRetries)))
	}
	return cfg, nil
}
