package hopping

import "context"

// ChannelSwitcher is the seam the hopper drives; it is satisfied by
// ports.RadioController but kept narrow so the hopper can be tested
// without a full radio fake.
type ChannelSwitcher interface {
	SetChannel(ctx context.Context, channel int) error
}
