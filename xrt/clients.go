package xrt

import (
	"fmt"
	"runtime"

	"github.com/gomlx/goxrt/literals"
	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Client manages the resources of one platform: its device buffers, compilation and
// execution of programs. It owns one dedicated worker goroutine per device ordinal --
// everything destined to a device runs serialized through its worker, while distinct
// devices run concurrently -- and a bounded limiter for host-to-device conversions.
//
// Create it with NewClient, and release its workers with Destroy when done. A Client is
// safe for concurrent use, except that Destroy must not race with other calls.
type Client struct {
	platform platforms.Platform
	devices  []*Device
	workers  []*workerThread

	// h2dTransferLimit bounds concurrent host-to-device conversions in BuffersFromHost.
	// Independent of the device count; fixed at construction.
	h2dTransferLimit int
}

// NewClient creates a Client for the named platform (see platforms.New for the name
// format; empty selects the default platform). It returns an error if the platform is
// unknown or has no visible device.
func NewClient(platformName string) (*Client, error) {
	platform, err := platforms.New(platformName)
	if err != nil {
		return nil, err
	}
	return NewClientForPlatform(platform)
}

// NewClientForPlatform creates a Client on an already constructed platform.
func NewClientForPlatform(platform platforms.Platform) (*Client, error) {
	numDevices := platform.NumDevices()
	if numDevices <= 0 {
		return nil, errors.Errorf("platform %q reports no visible devices -- can't use client with no device", platform.Name())
	}
	c := &Client{
		platform:         platform,
		devices:          make([]*Device, numDevices),
		workers:          make([]*workerThread, numDevices),
		h2dTransferLimit: max(runtime.GOMAXPROCS(0), 1),
	}
	for ordinal := range c.workers {
		c.devices[ordinal] = &Device{client: c, ordinal: ordinal}
		c.workers[ordinal] = newWorkerThread(fmt.Sprintf("%s-device-worker-#%d", platform.Name(), ordinal))
	}
	klog.V(1).Infof("xrt.NewClient: platform=%q, %d device worker(s)", platform.Name(), numDevices)
	return c, nil
}

// Destroy stops the per-device workers after draining their queued tasks, and makes the
// client invalid: all further operations on it (or on buffers and executables that point
// back to it) fail. Idempotent.
func (c *Client) Destroy() error {
	if c == nil || c.platform == nil {
		// Already destroyed, no-op.
		return nil
	}
	for _, worker := range c.workers {
		worker.Close()
	}
	c.workers = nil
	c.devices = nil
	c.platform = nil
	return nil
}

// alive returns an error if the client is nil or already destroyed.
func (c *Client) alive() error {
	if c == nil || c.platform == nil {
		return errors.New("Client is nil or has already been destroyed")
	}
	return nil
}

// worker returns the dedicated worker of the given device ordinal.
func (c *Client) worker(deviceOrdinal int) (*workerThread, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if deviceOrdinal < 0 || deviceOrdinal >= len(c.workers) {
		return nil, errors.Errorf("invalid device ordinal %d, client has %d devices", deviceOrdinal, len(c.workers))
	}
	return c.workers[deviceOrdinal], nil
}

// Platform the client was created on.
func (c *Client) Platform() platforms.Platform { return c.platform }

// NumDevices visible to the client.
func (c *Client) NumDevices() int { return len(c.devices) }

// AddressableDevices returns the devices the client can issue commands to.
// The returned slice and the Devices are owned by the Client, don't change it.
func (c *Client) AddressableDevices() []*Device { return c.devices }

// Device returns the device with the given ordinal.
func (c *Client) Device(ordinal int) (*Device, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if ordinal < 0 || ordinal >= len(c.devices) {
		return nil, errors.Errorf("invalid device ordinal %d, client has %d devices", ordinal, len(c.devices))
	}
	return c.devices[ordinal], nil
}

// String implements fmt.Stringer.
func (c *Client) String() string {
	if c == nil || c.platform == nil {
		return "Invalid client"
	}
	return fmt.Sprintf("Client[platform=%q, %d devices]", c.platform.Name(), len(c.devices))
}

// TransferToInfeed transfers the literal's data to the infeed queue of the given device.
// The transfer is serialized with the executions on that device.
func (c *Client) TransferToInfeed(literal *literals.Literal, deviceOrdinal int) error {
	if err := c.alive(); err != nil {
		return err
	}
	if literal == nil {
		return errors.New("TransferToInfeed given a nil literal")
	}
	platform := c.platform
	return c.runOnDevice(deviceOrdinal, func() error {
		return platform.TransferToInfeed(deviceOrdinal, literal.Leaves())
	})
}

// TransferFromOutfeed receives a value of the given shape from the outfeed queue of the
// given device, blocking until the device makes one available.
func (c *Client) TransferFromOutfeed(shape shapes.Shape, deviceOrdinal int) (*literals.Literal, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if !shape.Ok() {
		return nil, errors.Errorf("TransferFromOutfeed given an invalid shape %s", shape)
	}
	leafShapes := shape.LeafShapes()
	sizes := make([]int, len(leafShapes))
	for ii, leafShape := range leafShapes {
		sizes[ii] = leafShape.Memory()
	}
	platform := c.platform
	var literal *literals.Literal
	err := c.runOnDevice(deviceOrdinal, func() error {
		leaves, err := platform.TransferFromOutfeed(deviceOrdinal, sizes)
		if err != nil {
			return err
		}
		literal, err = literals.FromLeaves(shape, leaves)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "TransferFromOutfeed(%s, device #%d)", shape, deviceOrdinal)
	}
	return literal, nil
}

// RegisterCustomCallTarget registers a native function that compiled programs can invoke
// by name through custom-call instructions.
//
// The registry is process-wide (shared by all clients and platforms) and the last
// registration for a given name wins; see platforms.RegisterCustomCallTarget.
func (c *Client) RegisterCustomCallTarget(name string, target platforms.CustomCallTarget) error {
	if err := c.alive(); err != nil {
		return err
	}
	return platforms.RegisterCustomCallTarget(name, target)
}
