package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/snapwarden/types"
)

// Gateway is the set of cloud calls snapwarden needs. All mutations of
// cloud state go through it.
type Gateway interface {
	// Discovery
	DescribeInstances(ctx context.Context, filter InstanceFilter) ([]types.Instance, error)
	DescribeVolumes(ctx context.Context, instanceID string) ([]types.Volume, error)
	DescribeSnapshots(ctx context.Context, volumeID string) ([]types.Snapshot, error)

	// Power
	StopInstance(ctx context.Context, instanceID string) error
	WaitStopped(ctx context.Context, instanceID string, timeout time.Duration) error
	StartInstance(ctx context.Context, instanceID string) error
	WaitRunning(ctx context.Context, instanceID string, timeout time.Duration) error
	RebootInstance(ctx context.Context, instanceID string) error

	// Snapshots and teardown
	CreateSnapshot(ctx context.Context, volumeID, description string) (string, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
	DetachVolume(ctx context.Context, volumeID string) error
	WaitVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error
	DeleteVolume(ctx context.Context, volumeID string) error
	TerminateInstance(ctx context.Context, instanceID string) error

	// Provider info
	Name() string
	Region() string
}

// InstanceFilter narrows DescribeInstances. Empty means every instance.
type InstanceFilter struct {
	IDs  []string
	Tags map[string]string
}

// ProviderConfig holds provider configuration
type ProviderConfig struct {
	Profile          string
	Region           string
	RetryMaxAttempts int
	WaitPollMin      time.Duration
	WaitPollMax      time.Duration
}

// ProviderFactory creates a gateway instance
type ProviderFactory func(ctx context.Context, config ProviderConfig) (Gateway, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProviderFactory)
)

// RegisterProvider registers a new provider factory
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// GetProvider creates a gateway by provider name
func GetProvider(ctx context.Context, name string, config ProviderConfig) (Gateway, error) {
	registryMu.RLock()
	factory, exists := registry[name]
	registryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(ctx, config)
}

// ListProviders returns available provider names
func ListProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
