package cants

// Default retry/delay parameters, carried over from the per-call default
// arguments of the original API (SendTC retry=0, ReceiveTM retry=3,
// SendBlock retry=3/report_delay_ms=20/report_retry=3, ReceiveBlock
// retry=3/start_retry=3). LoadConfig falls back to these when a
// section or key is absent from the INI file.
const (
	DefaultTCMaxRetries       uint8  = 0
	DefaultTMMaxRetries       uint8  = 3
	DefaultSBMaxRetries       uint8  = 3
	DefaultReportDelayMs      uint32 = 20
	DefaultSBMaxReportRetries uint8  = 3
	DefaultGBMaxRetries       uint8  = 3
	DefaultGBMaxStartRetries  uint8  = 3
)
