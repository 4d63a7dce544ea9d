package xrt

import (
	"strconv"
	"testing"

	"github.com/gomlx/goxrt/dtypes"
	"github.com/gomlx/goxrt/literals"
	"github.com/gomlx/goxrt/platforms/host"
	"github.com/gomlx/goxrt/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a client over a fresh host platform with the given number of
// devices, and returns both. The platform gives the tests access to the allocation
// accounting.
func newTestClient(t *testing.T, numDevices int) (*Client, *host.Platform) {
	platform, err := host.New(strconv.Itoa(numDevices))
	require.NoError(t, err)
	client, err := NewClientForPlatform(platform)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Destroy() })
	return client, platform
}

func TestNewClient(t *testing.T) {
	client := must.M1(NewClient("host:3"))
	defer func() { _ = client.Destroy() }()
	require.Equal(t, 3, client.NumDevices())
	require.Equal(t, "host", client.Platform().Name())
	require.Len(t, client.AddressableDevices(), 3)
	require.Contains(t, client.String(), "host")

	device := must.M1(client.Device(2))
	require.Equal(t, 2, device.Ordinal())
	require.Equal(t, client, device.Client())
	require.Contains(t, device.String(), "#2")

	_, err := client.Device(3)
	require.Error(t, err)
	_, err = client.Device(-1)
	require.Error(t, err)

	_, err = NewClient("no-such-platform")
	require.Error(t, err)
}

func TestClientDestroy(t *testing.T) {
	client := must.M1(NewClient("host:2"))
	require.NoError(t, client.Destroy())
	require.NoError(t, client.Destroy(), "Destroy is idempotent")

	_, err := client.Device(0)
	require.Error(t, err)
	_, err = client.BufferFromHost().FromLiteral(literals.FromScalar(float32(1))).Done()
	require.Error(t, err)
	_, err = client.Compile().WithProgram([]byte("identity"), host.KernelFormat).Done()
	require.Error(t, err)
}

func TestClientInfeedOutfeed(t *testing.T) {
	client, _ := newTestClient(t, 2)
	layout := shapes.Make(dtypes.Int32, 2)
	input := must.M1(literals.FromFlatData([]int32{5, 6}, 2))

	// Feed a value, execute the "infeed" kernel to dequeue it on-device.
	require.NoError(t, client.TransferToInfeed(input, 1))
	exec := must.M1(client.Compile().
		WithProgram([]byte("infeed"), host.KernelFormat).
		WithArgumentLayouts(layout).
		WithDeviceAssignment(1).
		Done())
	defer func() { _ = exec.Destroy() }()
	arg := must.M1(client.BufferFromHost().FromLiteral(input).ToDeviceNum(1).Done())
	defer func() { _ = arg.Destroy() }()
	output := must.M1(exec.Execute(arg))
	defer func() { _ = output.Destroy() }()
	require.True(t, input.Equal(must.M1(output.ToLiteral())))

	// The "outfeed" kernel enqueues its argument, readable with TransferFromOutfeed.
	outfeed := must.M1(client.Compile().
		WithProgram([]byte("outfeed"), host.KernelFormat).
		WithArgumentLayouts(layout).
		WithDeviceAssignment(1).
		Done())
	defer func() { _ = outfeed.Destroy() }()
	echoed := must.M1(outfeed.Execute(arg))
	defer func() { _ = echoed.Destroy() }()
	fed := must.M1(client.TransferFromOutfeed(layout, 1))
	require.True(t, input.Equal(fed))

	require.Error(t, client.TransferToInfeed(nil, 0))
	_, err := client.TransferFromOutfeed(shapes.Shape{}, 0)
	require.Error(t, err, "invalid shape")
}
