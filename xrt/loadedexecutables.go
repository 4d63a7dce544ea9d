package xrt

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var loadedExecutablesAlive atomic.Int64

// LoadedExecutablesAlive returns the number of LoadedExecutable objects still in memory
// and tracked by the runtime, across all clients.
func LoadedExecutablesAlive() int64 {
	return loadedExecutablesAlive.Load()
}

// LoadedExecutable is a compiled program loaded on the client, ready to execute. It is
// created with Client.Compile, and pinned at compilation time to one device per replica.
//
// Destroy it when done to release the platform's compilation artifacts; if it is garbage
// collected first, a cleanup releases them.
type LoadedExecutable struct {
	client *Client
	ref    *executableRef

	argLayouts       []shapes.Shape
	deviceAssignment []int
	name             string
	outputShape      shapes.Shape
}

// executableRef holds the platform executable, so freeing is idempotent between an
// explicit Destroy and the garbage-collection cleanup.
type executableRef struct {
	exec platforms.Executable
}

func (ref *executableRef) free() {
	if ref.exec == nil {
		return
	}
	ref.exec.Free()
	ref.exec = nil
	loadedExecutablesAlive.Add(-1)
}

func newLoadedExecutable(client *Client, exec platforms.Executable, argLayouts []shapes.Shape, deviceAssignment []int) *LoadedExecutable {
	e := &LoadedExecutable{
		client:           client,
		ref:              &executableRef{exec: exec},
		argLayouts:       argLayouts,
		deviceAssignment: deviceAssignment,
		name:             exec.Name(),
		outputShape:      exec.OutputShape(),
	}
	loadedExecutablesAlive.Add(1)
	runtime.AddCleanup(e, func(ref *executableRef) { ref.free() }, e.ref)
	return e
}

// Destroy the executable, releasing the platform's compilation artifacts. In-flight
// executions are not interrupted; further Execute calls fail. Idempotent.
func (e *LoadedExecutable) Destroy() error {
	if e == nil || e.ref == nil {
		return nil
	}
	e.ref.free()
	e.client = nil
	return nil
}

// executable returns the platform executable, or an error if destroyed.
func (e *LoadedExecutable) executable() (platforms.Executable, error) {
	if e == nil || e.ref == nil || e.ref.exec == nil || e.client == nil {
		return nil, errors.New("LoadedExecutable is nil or has already been destroyed")
	}
	return e.ref.exec, nil
}

// Name of the program, as reported by the platform.
func (e *LoadedExecutable) Name() string { return e.name }

// NumReplicas the program was compiled for.
func (e *LoadedExecutable) NumReplicas() int { return len(e.deviceAssignment) }

// OutputShape of one execution of the program (per replica).
func (e *LoadedExecutable) OutputShape() shapes.Shape { return e.outputShape }

// DeviceOrdinals returns the device each replica is pinned to: replica #i runs on the
// ordinal at position i. The returned slice is owned by the executable, don't change it.
func (e *LoadedExecutable) DeviceOrdinals() []int { return e.deviceAssignment }

// MemoryUsage reports the platform's memory estimate for one execution of the program.
func (e *LoadedExecutable) MemoryUsage() (platforms.MemoryUsageStats, error) {
	exec, err := e.executable()
	if err != nil {
		return platforms.MemoryUsageStats{}, err
	}
	return exec.MemoryUsage(), nil
}

// validateArgs checks one replica's arguments against the executable's layouts and the
// replica's pinned device, and returns their DAG nodes.
func (e *LoadedExecutable) validateArgs(replica int, args []*Buffer) ([]*DeviceBuffer, error) {
	deviceOrdinal := e.deviceAssignment[replica]
	if e.argLayouts != nil && len(args) != len(e.argLayouts) {
		return nil, errors.Errorf("executable %q takes %d arguments, got %d", e.name, len(e.argLayouts), len(args))
	}
	nodes := make([]*DeviceBuffer, len(args))
	for ii, arg := range args {
		node, err := arg.node()
		if err != nil {
			return nil, errors.WithMessagef(err, "argument #%d", ii)
		}
		if arg.client != e.client {
			return nil, errors.Errorf("argument #%d belongs to a different client", ii)
		}
		if node.deviceOrdinal != deviceOrdinal {
			return nil, errors.Errorf("argument #%d is on device #%d, but replica #%d is pinned to device #%d",
				ii, node.deviceOrdinal, replica, deviceOrdinal)
		}
		if e.argLayouts != nil && !arg.shape.Equal(e.argLayouts[ii]) {
			return nil, errors.Errorf("argument #%d is shaped %s, executable %q expects %s",
				ii, arg.shape, e.name, e.argLayouts[ii])
		}
		nodes[ii] = node
	}
	return nodes, nil
}

// executeReplica runs one replica on its pinned device's worker and wraps the resulting
// leaf allocations into a new Buffer. The argument nodes must be pre-validated, and are
// retained for the duration of the call.
func (e *LoadedExecutable) executeReplica(replica int, nodes []*DeviceBuffer, launchID string) (*Buffer, error) {
	exec, err := e.executable()
	if err != nil {
		return nil, err
	}
	client := e.client
	deviceOrdinal := e.deviceAssignment[replica]

	// Keep the arguments alive even if the caller destroys their handles mid-flight.
	for _, node := range nodes {
		node.Retain()
	}
	defer func() {
		for _, node := range nodes {
			node.Release()
		}
	}()

	if klog.V(2).Enabled() {
		klog.Infof("xrt: launch %s: executable=%q replica=%d device=#%d", launchID, e.name, replica, deviceOrdinal)
	}
	var output *DeviceBuffer
	err = client.runOnDevice(deviceOrdinal, func() error {
		args := make([][]platforms.Memory, len(nodes))
		for ii, node := range nodes {
			args[ii] = node.leaves()
		}
		outLeaves, err := exec.Execute(deviceOrdinal, args)
		if err != nil {
			return err
		}
		output, err = deviceBufferFromLeaves(client, deviceOrdinal, e.outputShape, outLeaves)
		if err != nil {
			// Shape mismatch from the platform: free the orphaned leaves.
			for _, leaf := range outLeaves {
				leaf.Free()
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newBuffer(client, e.outputShape.Clone(), output), nil
}

// Execute runs a single-replica executable with the given arguments, and returns the
// output buffer, allocated on the replica's pinned device. The arguments are only read,
// never modified, and stay valid.
//
// Executables compiled for more than one replica must use ExecutePerReplica.
func (e *LoadedExecutable) Execute(args ...*Buffer) (*Buffer, error) {
	if _, err := e.executable(); err != nil {
		return nil, err
	}
	if len(e.deviceAssignment) != 1 {
		return nil, errors.Errorf("executable %q was compiled for %d replicas, use ExecutePerReplica", e.name, len(e.deviceAssignment))
	}
	nodes, err := e.validateArgs(0, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "Execute(%q)", e.name)
	}
	output, err := e.executeReplica(0, nodes, uuid.NewString())
	if err != nil {
		return nil, errors.WithMessagef(err, "Execute(%q)", e.name)
	}
	return output, nil
}

// ExecutePerReplica runs all replicas concurrently, each on its pinned device's worker,
// with argsPerReplica[i] as replica #i's arguments. It returns one output buffer per
// replica, aligned with the replicas.
//
// All arguments of all replicas are validated before anything is dispatched, so a bad
// argument never leaves a subset of replicas running. If any replica fails, the error of
// the lowest-index failing replica is returned, every output that was produced is
// destroyed, and no results are returned -- the devices' workers stay usable.
func (e *LoadedExecutable) ExecutePerReplica(argsPerReplica [][]*Buffer) ([]*Buffer, error) {
	if _, err := e.executable(); err != nil {
		return nil, err
	}
	numReplicas := len(e.deviceAssignment)
	if len(argsPerReplica) != numReplicas {
		return nil, errors.Errorf("executable %q was compiled for %d replicas, got arguments for %d",
			e.name, numReplicas, len(argsPerReplica))
	}
	nodesPerReplica := make([][]*DeviceBuffer, numReplicas)
	for replica, args := range argsPerReplica {
		var err error
		nodesPerReplica[replica], err = e.validateArgs(replica, args)
		if err != nil {
			return nil, errors.WithMessagef(err, "ExecutePerReplica(%q) replica #%d", e.name, replica)
		}
	}

	launchID := uuid.NewString()
	outputs := make([]*Buffer, numReplicas)
	errs := make([]error, numReplicas)
	var wg sync.WaitGroup
	wg.Add(numReplicas)
	for replica := range numReplicas {
		go func() {
			defer wg.Done()
			outputs[replica], errs[replica] = e.executeReplica(replica, nodesPerReplica[replica], launchID)
		}()
	}
	wg.Wait()
	for replica, err := range errs {
		if err == nil {
			continue
		}
		for _, output := range outputs {
			if output != nil {
				_ = output.Destroy()
			}
		}
		return nil, errors.WithMessagef(err, "ExecutePerReplica(%q) replica #%d", e.name, replica)
	}
	return outputs, nil
}
