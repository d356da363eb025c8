// Package fleet provisions one dedicated compute instance per room and
// tracks its placement in the room store.
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

// Config carries the launch template for room instances.
type Config struct {
	ImageID       string
	InstanceType  string
	SubnetID      string
	SecurityGroup string
	// SettleDelay gives the application time to boot after the
	// instance reports running.
	SettleDelay time.Duration
	// RunningTimeout bounds the wait for the running state. The source
	// system waited indefinitely; an unbounded wait leaks every caller
	// when a launch wedges, so expiry rejects all waiters instead.
	RunningTimeout time.Duration
}

// bootScript redeploys the application on the prebuilt image.
const bootScript = `#!/bin/bash
sudo fuser -k 3000/tcp || true
cd /home/ubuntu/classroom-backend
pm2 delete room-server || true
pm2 start server --name room-server
pm2 save
`

// Coordinator launches, verifies, and reclaims per-room instances.
// Launches are single-flight per room: concurrent Acquire calls share
// one provider call and one result.
type Coordinator struct {
	store    core.RoomStore
	provider core.FleetProvider
	cfg      Config

	launches singleflight.Group
}

func NewCoordinator(store core.RoomStore, provider core.FleetProvider, cfg Config) *Coordinator {
	return &Coordinator{store: store, provider: provider, cfg: cfg}
}

// Acquire returns the address of the room's instance, provisioning one
// if needed. All concurrent callers for the same room receive the same
// instance or the same error.
func (c *Coordinator) Acquire(ctx context.Context, roomID domain.RoomID, teacherName string) (domain.Instance, error) {
	if inst, ok := c.Verify(ctx, roomID); ok {
		return inst, nil
	}
	// Provisioning is detached from the calling context: every waiter
	// shares the one launch, so the first caller hanging up must not
	// cancel it for the rest. RunningTimeout still bounds the wait.
	launchCtx := context.WithoutCancel(ctx)
	v, err, shared := c.launches.Do(string(roomID), func() (any, error) {
		return c.provision(launchCtx, roomID, teacherName)
	})
	if err != nil {
		return domain.Instance{}, err
	}
	if shared {
		log.Info().Str("module", "fleet").Str("room", string(roomID)).Msg("joined in-flight launch")
	}
	return v.(domain.Instance), nil
}

func (c *Coordinator) provision(ctx context.Context, roomID domain.RoomID, teacherName string) (domain.Instance, error) {
	// A racing caller may have finished provisioning between our Verify
	// and the singleflight slot opening up.
	if inst, ok := c.Verify(ctx, roomID); ok {
		return inst, nil
	}

	log.Info().Str("module", "fleet").Str("room", string(roomID)).Str("teacher", teacherName).Msg("launching instance")
	instanceID, err := c.provider.CreateInstance(ctx, core.InstanceSpec{
		RoomID:        string(roomID),
		ImageID:       c.cfg.ImageID,
		InstanceType:  c.cfg.InstanceType,
		SubnetID:      c.cfg.SubnetID,
		SecurityGroup: c.cfg.SecurityGroup,
		UserData:      bootScript,
	})
	if err != nil {
		return domain.Instance{}, fmt.Errorf("create instance: %w", err)
	}

	// Persist the id before waiting so a crash here leaves a traceable
	// instance instead of an orphan.
	if err := c.store.SetInstanceID(ctx, roomID, instanceID); err != nil {
		return domain.Instance{}, fmt.Errorf("persist instance id: %w", err)
	}

	log.Info().Str("module", "fleet").Str("room", string(roomID)).Str("instance", instanceID).Msg("waiting for running state")
	if err := c.provider.WaitUntilRunning(ctx, instanceID, c.cfg.RunningTimeout); err != nil {
		return domain.Instance{}, fmt.Errorf("wait until running: %w", err)
	}

	ip, err := c.provider.PublicIP(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("resolve public address: %w", err)
	}
	if err := c.store.SetInstanceIP(ctx, roomID, ip); err != nil {
		return domain.Instance{}, fmt.Errorf("persist public address: %w", err)
	}

	if c.cfg.SettleDelay > 0 {
		select {
		case <-time.After(c.cfg.SettleDelay):
		case <-ctx.Done():
			return domain.Instance{}, ctx.Err()
		}
	}

	log.Info().Str("module", "fleet").Str("room", string(roomID)).Str("instance", instanceID).Str("ip", ip).Msg("instance ready")
	return domain.Instance{ID: instanceID, PublicIP: ip}, nil
}

// Verify re-reads the stored placement and checks the provider's run
// state. A stale record is purged and reported absent; store or
// provider errors also degrade to absent so callers re-provision.
func (c *Coordinator) Verify(ctx context.Context, roomID domain.RoomID) (domain.Instance, bool) {
	inst, err := c.store.Instance(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "fleet").Str("room", string(roomID)).Msg("instance lookup failed")
		return domain.Instance{}, false
	}
	if inst.ID == "" || inst.PublicIP == "" {
		return domain.Instance{}, false
	}
	running, err := c.provider.InstanceRunning(ctx, inst.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "fleet").Str("room", string(roomID)).Str("instance", inst.ID).Msg("run-state check failed")
		return domain.Instance{}, false
	}
	if !running {
		if err := c.store.ClearInstance(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "fleet").Str("room", string(roomID)).Msg("stale instance purge failed")
		}
		return domain.Instance{}, false
	}
	return inst, true
}

// Release terminates the room's instance and clears its placement. It
// reads the stored id directly rather than verifying run state: a
// pending or stopped instance still exists at the provider and must be
// terminated, not forgotten.
func (c *Coordinator) Release(ctx context.Context, roomID domain.RoomID) error {
	inst, err := c.store.Instance(ctx, roomID)
	if err != nil {
		return fmt.Errorf("instance lookup: %w", err)
	}
	if inst.ID == "" {
		return nil
	}
	if err := c.provider.TerminateInstance(ctx, inst.ID); err != nil {
		return fmt.Errorf("terminate instance: %w", err)
	}
	if err := c.store.ClearInstance(ctx, roomID); err != nil {
		return fmt.Errorf("clear placement: %w", err)
	}
	log.Info().Str("module", "fleet").Str("room", string(roomID)).Str("instance", inst.ID).Msg("instance terminated")
	return nil
}

// ReclaimIdle releases instances of rooms with no present users. It is
// invoked by an external trigger, never self-scheduled.
func (c *Coordinator) ReclaimIdle(ctx context.Context) (released int, err error) {
	ids, err := c.store.RoomIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, roomID := range ids {
		n, err := c.store.UserCount(ctx, roomID)
		if err != nil {
			log.Warn().Err(err).Str("module", "fleet").Str("room", string(roomID)).Msg("presence check failed")
			continue
		}
		if n > 0 {
			continue
		}
		log.Info().Str("module", "fleet").Str("room", string(roomID)).Msg("room idle, releasing instance")
		if err := c.Release(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "fleet").Str("room", string(roomID)).Msg("release failed")
			continue
		}
		released++
	}
	return released, nil
}
