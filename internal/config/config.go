// Package config loads bootstrap configuration from flags and
// environment variables. Persistence of configuration to disk is out of
// scope (spec.md §1): this package only ever populates an in-memory
// Config.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	Interface  string
	Addr       string
	DwellTime  time.Duration
	Channels   []int
	Debug      bool

	// Mode is the autonomy gate the orchestrator boots with (spec.md
	// §4.8); an operator may change it later via SetMode.
	Mode domain.Mode

	// NProbes is the capacity of the probe-request ring (spec.md §4.5).
	NProbes int

	// FrameChannelCapacity is the bound on the frame channel between
	// the reader thread and the event loop (spec.md §5, default 1024).
	FrameChannelCapacity int

	// CaptureDeadline bounds a targeted capture before it times out
	// (spec.md §4.6 "deadline").
	CaptureDeadline time.Duration

	// AutoStop stops a CAPTURING session as soon as the engine reaches
	// SUCCESS (spec.md §4.8).
	AutoStop bool

	// AutoStartOnTarget resolves the Open Question in spec.md §9: when
	// true, mode=capture auto-starts a capture when a target is set,
	// provided the target AP has already been observed; when false, an
	// explicit start_capture command is required.
	AutoStartOnTarget bool

	// SetupSSID/SetupPSK/SetupChannel/SetupHidden configure the AP mode
	// handoff described in spec.md §6.
	SetupSSID    string
	SetupPSK     string
	SetupChannel int
	SetupHidden  bool

	// HandshakeDir is where completed captures are written as .pcap
	// files (spec.md §4.6).
	HandshakeDir string

	// DBPath is where completed CaptureSession/Handshake records are
	// durably logged (SPEC_FULL.md DOMAIN STACK).
	DBPath string

	// StartInAP requests SETUP mode on boot instead of IDLE (spec.md §4.8).
	StartInAP bool

	// SetupTimeout bounds how long SETUP mode waits before falling back
	// to scanning (spec.md §4.8).
	SetupTimeout time.Duration
}

// defaultChannels is the 2.4GHz + a conservative 5GHz slice, matching
// the channel pool shape the teacher partitions across interfaces.
var defaultChannels = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 36, 40, 44, 48}

// Load parses command line flags and environment variables to populate
// Config. Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	iface := getEnv("RECON_INTERFACE", "wlan0")
	addr := getEnv("RECON_ADDR", ":8080")
	dwellMS := int(getEnvFloat("RECON_DWELL_MS", 300))
	debug := getEnvBool("RECON_DEBUG", false)
	mode := getEnv("RECON_MODE", string(domain.ModeCapture))
	nProbes := int(getEnvFloat("RECON_N_PROBES", 10000))
	frameCap := int(getEnvFloat("RECON_FRAME_CHAN_CAP", 1024))
	deadlineS := int(getEnvFloat("RECON_CAPTURE_DEADLINE_S", 60))
	autoStop := getEnvBool("RECON_AUTO_STOP", true)
	autoStart := getEnvBool("RECON_AUTO_START_ON_TARGET", false)
	setupSSID := getEnv("RECON_SETUP_SSID", "pocketrecon-setup")
	setupPSK := getEnv("RECON_SETUP_PSK", "")
	setupChannel := int(getEnvFloat("RECON_SETUP_CHANNEL", 6))
	setupHidden := getEnvBool("RECON_SETUP_HIDDEN", false)
	handshakeDir := getEnv("RECON_HANDSHAKE_DIR", defaultHandshakeDir())
	dbPath := getEnv("RECON_DB", defaultDBPath())
	startInAP := getEnvBool("RECON_START_IN_AP", false)
	setupTimeoutS := int(getEnvFloat("RECON_SETUP_TIMEOUT_S", 300))

	flag.StringVar(&iface, "i", iface, "WiFi interface to control")
	flag.StringVar(&addr, "addr", addr, "HTTP status/command surface address")
	flag.IntVar(&dwellMS, "dwell", dwellMS, "Channel dwell time in milliseconds")
	flag.BoolVar(&debug, "debug", debug, "Enable verbose debug logging")
	flag.StringVar(&mode, "mode", mode, "Boot autonomy mode: passive|capture|drop")
	flag.IntVar(&nProbes, "n-probes", nProbes, "Probe-request ring capacity")
	flag.IntVar(&frameCap, "frame-chan-cap", frameCap, "Frame channel buffer capacity")
	flag.IntVar(&deadlineS, "capture-deadline", deadlineS, "Capture deadline in seconds")
	flag.BoolVar(&autoStop, "auto-stop", autoStop, "Auto-stop capture on SUCCESS")
	flag.BoolVar(&autoStart, "auto-start-on-target", autoStart, "Auto-start capture the instant a target is set (mode=capture)")
	flag.StringVar(&setupSSID, "setup-ssid", setupSSID, "SSID advertised in SETUP mode")
	flag.StringVar(&setupPSK, "setup-psk", setupPSK, "PSK for SETUP mode AP (empty = open)")
	flag.IntVar(&setupChannel, "setup-channel", setupChannel, "Channel for SETUP mode AP")
	flag.BoolVar(&setupHidden, "setup-hidden", setupHidden, "Hide SETUP mode SSID")
	flag.StringVar(&handshakeDir, "handshake-dir", handshakeDir, "Directory for captured .pcap files")
	flag.StringVar(&dbPath, "db", dbPath, "Path to the capture-session SQLite log")
	flag.BoolVar(&startInAP, "start-in-ap", startInAP, "Boot directly into SETUP/AP mode")
	flag.IntVar(&setupTimeoutS, "setup-timeout", setupTimeoutS, "SETUP mode timeout in seconds before falling back to scanning")

	flag.Parse()

	cfg.Interface = iface
	cfg.Addr = addr
	cfg.DwellTime = time.Duration(dwellMS) * time.Millisecond
	cfg.Debug = debug
	cfg.Mode = domain.Mode(mode)
	cfg.Channels = parseChannels(getEnv("RECON_CHANNELS", ""))
	cfg.NProbes = nProbes
	cfg.FrameChannelCapacity = frameCap
	cfg.CaptureDeadline = time.Duration(deadlineS) * time.Second
	cfg.AutoStop = autoStop
	cfg.AutoStartOnTarget = autoStart
	cfg.SetupSSID = setupSSID
	cfg.SetupPSK = setupPSK
	cfg.SetupChannel = setupChannel
	cfg.SetupHidden = setupHidden
	cfg.HandshakeDir = handshakeDir
	cfg.DBPath = dbPath
	cfg.StartInAP = startInAP
	cfg.SetupTimeout = time.Duration(setupTimeoutS) * time.Second

	if len(cfg.Channels) == 0 {
		cfg.Channels = append([]int(nil), defaultChannels...)
	}

	return cfg
}

func parseChannels(s string) []int {
	if s == "" {
		return nil
	}
	var chans []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			chans = append(chans, n)
		}
	}
	return chans
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pocketrecon.db"
	}
	return home + "/.pocketrecon/pocketrecon.db"
}

func defaultHandshakeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./handshakes"
	}
	return home + "/.local/share/pocketrecon/handshakes"
}
