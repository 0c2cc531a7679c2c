package types

import (
	"errors"
	"sort"
	"time"
)

// ProjectTagKey is the instance tag used for project selection
const ProjectTagKey = "Project"

// AutoScalingGroupTagKey is set by AWS on instances launched by an Auto Scaling group
const AutoScalingGroupTagKey = "aws:autoscaling:groupName"

// ErrMissingAttachment marks a volume the provider reported without any attachment
var ErrMissingAttachment = errors.New("volume has no attachment")

// PowerState is the instance power state as reported by the provider
type PowerState string

const (
	PowerRunning      PowerState = "running"
	PowerStopped      PowerState = "stopped"
	PowerPending      PowerState = "pending"
	PowerStopping     PowerState = "stopping"
	PowerShuttingDown PowerState = "shutting-down"
	PowerTerminated   PowerState = "terminated"
	PowerUnknown      PowerState = "unknown"
)

// ParsePowerState maps a provider state name onto a PowerState
func ParsePowerState(s string) PowerState {
	switch PowerState(s) {
	case PowerRunning, PowerStopped, PowerPending, PowerStopping, PowerShuttingDown, PowerTerminated:
		return PowerState(s)
	default:
		return PowerUnknown
	}
}

// IsGone reports whether the instance is terminated or on its way there
func (p PowerState) IsGone() bool {
	return p == PowerShuttingDown || p == PowerTerminated
}

// SnapshotState is the provider-reported snapshot state. Values other than
// pending and completed (error, recoverable, ...) are passed through verbatim.
type SnapshotState string

const (
	SnapshotPending   SnapshotState = "pending"
	SnapshotCompleted SnapshotState = "completed"
	SnapshotError     SnapshotState = "error"
)

// Instance is a compute instance with its attached volumes
type Instance struct {
	ID            string            `json:"id"`
	Type          string            `json:"type,omitempty"`
	State         PowerState        `json:"state"`
	AZ            string            `json:"availability_zone,omitempty"`
	PublicDNSName string            `json:"public_dns_name,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Volumes       []Volume          `json:"volumes,omitempty"`

	// Err is set when the instance row could not be fully loaded
	Err error `json:"-"`
}

// Tag returns the value of a tag, or "" if absent
func (i Instance) Tag(key string) string {
	if i.Tags == nil {
		return ""
	}
	return i.Tags[key]
}

// Project returns the Project tag value
func (i Instance) Project() string {
	return i.Tag(ProjectTagKey)
}

// IsRunning checks the power state
func (i Instance) IsRunning() bool {
	return i.State == PowerRunning
}

// Clone returns a deep copy of the instance
func (i Instance) Clone() Instance {
	out := i
	if i.Tags != nil {
		out.Tags = make(map[string]string, len(i.Tags))
		for k, v := range i.Tags {
			out.Tags[k] = v
		}
	}
	if i.Volumes != nil {
		out.Volumes = make([]Volume, len(i.Volumes))
		for n, v := range i.Volumes {
			out.Volumes[n] = v.Clone()
		}
	}
	return out
}

// Attachment links a volume to an instance device
type Attachment struct {
	InstanceID string `json:"instance_id"`
	Device     string `json:"device"`
}

// Volume is a block storage volume
type Volume struct {
	ID          string       `json:"id"`
	State       string       `json:"state,omitempty"`
	SizeGiB     int32        `json:"size_gib"`
	Encrypted   bool         `json:"encrypted"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Snapshots are ordered newest first
	Snapshots []Snapshot `json:"snapshots,omitempty"`

	Err error `json:"-"`
}

// Device returns the device path of the first attachment
func (v Volume) Device() (string, error) {
	if len(v.Attachments) == 0 {
		return "", ErrMissingAttachment
	}
	return v.Attachments[0].Device, nil
}

// Latest returns the most recent snapshot, or nil when there is no history
func (v Volume) Latest() *Snapshot {
	if len(v.Snapshots) == 0 {
		return nil
	}
	latest := v.Snapshots[0]
	for _, s := range v.Snapshots[1:] {
		if s.newerThan(latest) {
			latest = s
		}
	}
	return &latest
}

// Clone returns a deep copy of the volume
func (v Volume) Clone() Volume {
	out := v
	if v.Attachments != nil {
		out.Attachments = append([]Attachment(nil), v.Attachments...)
	}
	if v.Snapshots != nil {
		out.Snapshots = append([]Snapshot(nil), v.Snapshots...)
	}
	return out
}

// Snapshot is a point-in-time copy of a volume
type Snapshot struct {
	ID          string        `json:"id"`
	VolumeID    string        `json:"volume_id"`
	State       SnapshotState `json:"state"`
	Progress    string        `json:"progress,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	Description string        `json:"description,omitempty"`
}

// newerThan orders by start time, then by ID so equal timestamps are deterministic
func (s Snapshot) newerThan(other Snapshot) bool {
	if !s.StartTime.Equal(other.StartTime) {
		return s.StartTime.After(other.StartTime)
	}
	return s.ID > other.ID
}

// SortSnapshots orders snapshots newest first
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].newerThan(snaps[j])
	})
}
