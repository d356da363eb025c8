package core

import (
	"context"
	"time"
)

// InstanceSpec is everything the provider needs to launch a dedicated
// room instance from the prebuilt image.
type InstanceSpec struct {
	RoomID        string
	ImageID       string
	InstanceType  string
	SubnetID      string
	SecurityGroup string
	// UserData is the plain-text boot script; the provider encodes it.
	UserData string
}

// FleetProvider abstracts the cloud provider consumed by the
// provisioning coordinator.
type FleetProvider interface {
	CreateInstance(ctx context.Context, spec InstanceSpec) (instanceID string, err error)
	// WaitUntilRunning blocks until the instance reports running, or
	// the timeout expires.
	WaitUntilRunning(ctx context.Context, instanceID string, timeout time.Duration) error
	InstanceRunning(ctx context.Context, instanceID string) (bool, error)
	PublicIP(ctx context.Context, instanceID string) (string, error)
	TerminateInstance(ctx context.Context, instanceID string) error
}
