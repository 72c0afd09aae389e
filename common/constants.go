// Package common provides shared constants, types, and utilities
// used across the VPN Rotator application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "VPN Rotator"
	// BinaryName is the name of the installed binary.
	BinaryName = "vpn-rotator"
)

// File names used by the application, relative to the install directory.
const (
	ConfigFileName     = "rotator.yaml"
	AuthFileName       = "auth.txt"
	LogFileName        = "vpn-rotator.log"
	AttemptLogFileName = "openvpn_attempt.log"
	HistoryDBFileName  = "history.db"
)

// TunnelProcessName is the process name of the external tunnel client.
// It is both the binary launched and the name broadcast to killall/pgrep.
const TunnelProcessName = "openvpn"

// InitCompletedMarker is the literal line OpenVPN writes to its log once
// the tunnel is fully established.
const InitCompletedMarker = "Initialization Sequence Completed"

// Default timings for the rotation cycle. All of them are overridable
// from the configuration file.
const (
	// CheckInterval is how long to stay in steady state between rotations.
	CheckInterval = 30 * time.Minute
	// RecheckDelay is the wait after a reconnect before querying the new IP.
	RecheckDelay = 15 * time.Second
	// WarmupDelay is the wait after launching the tunnel before inspecting
	// its log for the completion marker.
	WarmupDelay = 10 * time.Second
	// SettleDelay is the wait after broadcasting a stop signal before
	// confirming no tunnel instance remains.
	SettleDelay = 5 * time.Second
	// RetryCooldown is the wait between failed reconnect attempts.
	RetryCooldown = 5 * time.Second
	// VerifySpacing is the wait between failed IP verification attempts.
	VerifySpacing = 5 * time.Second
	// LookupTimeout is the per-request timeout for IP lookup endpoints.
	LookupTimeout = 5 * time.Second
)

// Default attempt bounds.
const (
	// MaxReconnectAttempts bounds tunnel establishment retries per cycle.
	MaxReconnectAttempts = 3
	// MaxVerifyAttempts bounds public IP lookups per cycle.
	MaxVerifyAttempts = 3
)
