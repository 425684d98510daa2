package engine

import "time"

// SystemStatus describes the running engine.
type SystemStatus struct {
	Mode       string    `json:"mode"` // paper, or live when a gateway is wired
	Provider   string    `json:"provider"`
	Symbols    []string  `json:"symbols"`
	Timeframe  string    `json:"timeframe"`
	Workers    int       `json:"workers"`
	Interval   string    `json:"scheduler_interval"`
	Strategies []string  `json:"custom_strategies"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at"`
	ServerTime time.Time `json:"server_time"`
}
