package radio

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/lyra-sec/pocketrecon/internal/core/domain"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
)

// Controller implements ports.RadioController against a single
// physical WiFi interface, per spec.md §4.1.
type Controller struct {
	mu       sync.Mutex
	iface    string
	executor CommandExecutor

	mode           string // "managed", "monitor", "ap"
	monitorIface   string
	currentChannel int
}

// New builds a Controller for the given base interface name.
func New(iface string, executor CommandExecutor) *Controller {
	if executor == nil {
		executor = SystemCommandExecutor{}
	}
	return &Controller{
		iface:    iface,
		executor: executor,
		mode:     "managed",
	}
}

// EnterMonitor tries, in order, airmon-ng, direct iw, and vendor
// nexutil mode switching, returning the effective monitor interface
// name of whichever strategy succeeds first.
func (c *Controller) EnterMonitor(ctx context.Context) (ports.MonitorHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopConflictingServices(ctx)

	if name, err := c.airmonStart(ctx); err == nil {
		c.mode = "monitor"
		c.monitorIface = name
		log.Printf("[radio] monitor mode enabled via airmon-ng on %s", name)
		return ports.MonitorHandle{Interface: name}, nil
	}

	if err := c.iwMonitor(ctx); err == nil {
		c.mode = "monitor"
		c.monitorIface = c.iface
		log.Printf("[radio] monitor mode enabled via iw on %s", c.iface)
		return ports.MonitorHandle{Interface: c.iface}, nil
	}

	if err := c.nexmonMonitor(ctx); err == nil {
		c.mode = "monitor"
		c.monitorIface = c.iface
		log.Printf("[radio] monitor mode enabled via nexutil on %s", c.iface)
		return ports.MonitorHandle{Interface: c.iface}, nil
	}

	return ports.MonitorHandle{}, fmt.Errorf("%w: all monitor-mode strategies exhausted for %s", ports.ErrRadioUnavailable, c.iface)
}

// EnterManaged restores the interface to managed mode, tearing down
// any airmon-created monitor interface first.
func (c *Controller) EnterManaged(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == "monitor" && c.monitorIface != "" && c.monitorIface != c.iface {
		_, _ = c.run(ctx, "airmon-ng", "stop", c.monitorIface)
	}

	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "down"); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}
	if _, err := c.run(ctx, "iw", "dev", c.iface, "set", "type", "managed"); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "up"); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}

	_, _ = c.run(ctx, "systemctl", "start", "wpa_supplicant")

	c.mode = "managed"
	c.monitorIface = ""
	log.Printf("[radio] restored managed mode on %s", c.iface)
	return nil
}

// EnterAP brings the interface up as a software access point. This is
// the SETUP-mode path (spec.md §4.8) and relies on an already-running
// hostapd configuration external to this process; here we only
// perform the interface-level mode switch hostapd expects.
func (c *Controller) EnterAP(ctx context.Context, ssid, psk string, channel int, hidden bool) (ports.ApHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == "monitor" && c.monitorIface != "" && c.monitorIface != c.iface {
		_, _ = c.run(ctx, "airmon-ng", "stop", c.monitorIface)
	}

	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "down"); err != nil {
		return ports.ApHandle{}, fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}
	if _, err := c.run(ctx, "iw", "dev", c.iface, "set", "type", "__ap"); err != nil {
		return ports.ApHandle{}, fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "up"); err != nil {
		return ports.ApHandle{}, fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}
	if _, err := c.run(ctx, "iw", "dev", c.iface, "set", "channel", strconv.Itoa(channel)); err != nil {
		return ports.ApHandle{}, fmt.Errorf("%w: %v", ports.ErrRadioUnavailable, err)
	}

	c.mode = "ap"
	c.monitorIface = ""
	c.currentChannel = channel
	log.Printf("[radio] entered AP mode on %s, ssid=%q hidden=%v", c.iface, ssid, hidden)
	return ports.ApHandle{Interface: c.iface, SSID: ssid}, nil
}

// SetChannel sets the channel on whichever interface is currently
// active (monitor or managed).
func (c *Controller) SetChannel(ctx context.Context, channel int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setChannelLocked(ctx, channel)
}

func (c *Controller) setChannelLocked(ctx context.Context, channel int) error {
	iface := c.activeInterfaceLocked()
	if _, err := c.run(ctx, "iw", "dev", iface, "set", "channel", strconv.Itoa(channel)); err != nil {
		return fmt.Errorf("%w: set channel %d on %s: %v", ports.ErrRadioUnavailable, channel, iface, err)
	}
	c.currentChannel = channel
	return nil
}

// Info reports the current effective interface, mode, and channel.
func (c *Controller) Info(ctx context.Context) (domain.InterfaceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.InterfaceInfo{
		Name:    c.activeInterfaceLocked(),
		Mode:    c.mode,
		Channel: c.currentChannel,
	}, nil
}

func (c *Controller) activeInterfaceLocked() string {
	if c.monitorIface != "" {
		return c.monitorIface
	}
	return c.iface
}

func (c *Controller) stopConflictingServices(ctx context.Context) {
	for _, svc := range []string{"wpa_supplicant", "hostapd", "dnsmasq", "NetworkManager"} {
		_, _ = c.run(ctx, "systemctl", "stop", svc)
	}
}

// airmonStart is strategy 1: airmon-ng renames the interface, e.g.
// wlan0 -> wlan0mon.
func (c *Controller) airmonStart(ctx context.Context) (string, error) {
	_, _ = c.run(ctx, "airmon-ng", "check", "kill")

	out, err := c.run(ctx, "airmon-ng", "start", c.iface)
	if err != nil {
		return "", err
	}
	_ = out

	for _, candidate := range []string{c.iface + "mon", c.iface + "0mon", c.iface} {
		if interfaceExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("airmon-ng reported success but no monitor interface appeared")
}

// iwMonitor is strategy 2: switch the interface type directly with iw.
func (c *Controller) iwMonitor(ctx context.Context) error {
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "down"); err != nil {
		return err
	}
	if _, err := c.run(ctx, "iw", "dev", c.iface, "set", "type", "monitor"); err != nil {
		return err
	}
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "up"); err != nil {
		return err
	}
	return nil
}

// nexmonMonitor is strategy 3: vendor-specific firmware monitor mode
// via nexutil, for Broadcom chips lacking native monitor support.
func (c *Controller) nexmonMonitor(ctx context.Context) error {
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "down"); err != nil {
		return err
	}
	if _, err := c.run(ctx, "nexutil", "-m2"); err != nil {
		return err
	}
	if _, err := c.run(ctx, "iw", "dev", c.iface, "set", "type", "monitor"); err != nil {
		return err
	}
	if _, err := c.run(ctx, "ip", "link", "set", c.iface, "up"); err != nil {
		return err
	}

	out, err := c.run(ctx, "iw", "dev", c.iface, "info")
	if err != nil {
		return err
	}
	if !bytes.Contains(out, []byte("type monitor")) {
		return fmt.Errorf("nexutil monitor mode did not take effect")
	}
	return nil
}

func (c *Controller) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	out, err := c.executor.Execute(name, args...)
	if err != nil {
		log.Printf("[radio] command failed: %s %v: %v (%s)", name, args, err, string(out))
	}
	return out, err
}

func interfaceExists(iface string) bool {
	_, err := os.Stat("/sys/class/net/" + iface)
	return err == nil
}
