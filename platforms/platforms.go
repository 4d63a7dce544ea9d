// Package platforms defines the low-level interface the runtime drives to talk to an
// accelerator platform: device discovery, raw memory allocation and transfer, program
// compilation and execution primitives, and infeed/outfeed transfers.
//
// Platforms register themselves with Register (usually in their package init), and are
// instantiated by name with New. The runtime (package xrt) layers buffer ownership,
// per-device serialization and multi-replica dispatch on top of this interface.
package platforms

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
)

// Memory is an opaque reference to one allocation of device memory.
//
// Free is idempotent. The runtime guarantees Free is called exactly once per allocation
// it owns; platforms should tolerate (and account for) double frees anyway.
type Memory interface {
	// DeviceOrdinal of the device holding the allocation.
	DeviceOrdinal() int

	// SizeBytes of the allocation.
	SizeBytes() int

	// Free releases the device memory.
	Free()
}

// Executable is a compiled program loaded on a platform, ready to run on any of the
// platform's devices.
type Executable interface {
	// Name of the program, for logging.
	Name() string

	// OutputShape declared by the program.
	OutputShape() shapes.Shape

	// Execute runs the program on the given device. Arguments are given as the leaf
	// memories of each argument value, in depth-first order of the argument's shape tree.
	// It returns newly allocated leaf memories for the output, in depth-first order of
	// OutputShape -- an execution never reuses or mutates its input allocations.
	Execute(deviceOrdinal int, args [][]Memory) ([]Memory, error)

	// MemoryUsage estimated for one replica of the program.
	MemoryUsage() MemoryUsageStats

	// Free releases the loaded program. Idempotent.
	Free()
}

// Platform is the set of primitives an accelerator backend must provide.
// All methods must be safe for concurrent use.
type Platform interface {
	// Name of the platform, e.g. "host".
	Name() string

	// NumDevices visible to the platform.
	NumDevices() int

	// Allocate sizeBytes of uninitialized memory on the given device.
	Allocate(deviceOrdinal int, sizeBytes int) (Memory, error)

	// TransferToDevice copies the host bytes into a new device allocation.
	TransferToDevice(deviceOrdinal int, data []byte) (Memory, error)

	// TransferFromDevice copies the allocation's bytes into dst, whose length must match
	// the allocation size.
	TransferFromDevice(mem Memory, dst []byte) error

	// Compile the program for execution. The program encoding is platform specific,
	// identified by format. The argument layouts describe the shape of each argument the
	// compiled program will take, and opts carries replica configuration.
	Compile(program []byte, format string, argLayouts []shapes.Shape, opts BuildOptions) (Executable, error)

	// TransferToInfeed enqueues the leaf data buffers into the device's infeed queue.
	TransferToInfeed(deviceOrdinal int, leaves [][]byte) error

	// TransferFromOutfeed dequeues leaf data buffers with the given sizes from the
	// device's outfeed queue, blocking until they are available.
	TransferFromOutfeed(deviceOrdinal int, sizes []int) ([][]byte, error)
}

// BuildOptions configure compilation.
type BuildOptions struct {
	// NumReplicas of the program to run in parallel. Defaults to 1 when 0.
	NumReplicas int

	// DeviceAssignment maps replica index to device ordinal. When empty it defaults to
	// DefaultDeviceAssignment(NumReplicas).
	DeviceAssignment []int
}

// DefaultDeviceAssignment assigns replica r to device ordinal r.
func DefaultDeviceAssignment(numReplicas int) []int {
	assignment := make([]int, numReplicas)
	for r := range assignment {
		assignment[r] = r
	}
	return assignment
}

// MemoryUsageStats holds the estimated memory required by one replica of a compiled
// program.
type MemoryUsageStats struct {
	OnDeviceBytes int
	OnHostBytes   int
}

// String implements fmt.Stringer.
func (stats MemoryUsageStats) String() string {
	return fmt.Sprintf("on-device=%s, on-host=%s",
		humanize.IBytes(uint64(stats.OnDeviceBytes)), humanize.IBytes(uint64(stats.OnHostBytes)))
}

// Constructor builds a Platform. The config string is platform specific and may be empty.
type Constructor func(config string) (Platform, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// GoXRTPlatformEnv is the environment variable with the name (and optionally
// ":<config>") of the default platform used by New("").
const GoXRTPlatformEnv = "GOXRT_PLATFORM"

// Register a platform constructor under the given name. The first registered platform
// becomes the default. To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the sorted names of the registered platforms.
func Registered() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the platform with the given name, formatted as "<name>" or "<name>:<config>".
//
// An empty name selects, in order: the $GOXRT_PLATFORM environment variable if set, else
// the first registered platform. It returns an error if the requested platform was never
// registered, or if no platform is registered at all.
func New(name string) (Platform, error) {
	if name == "" {
		name = os.Getenv(GoXRTPlatformEnv)
	}
	var config string
	for ii, r := range name {
		if r == ':' {
			name, config = name[:ii], name[ii+1:]
			break
		}
	}

	muRegistry.Lock()
	if name == "" {
		name = firstRegistered
	}
	constructor, found := registeredConstructors[name]
	muRegistry.Unlock()

	if name == "" {
		return nil, errors.New("no platform registered -- import a platform package (e.g. github.com/gomlx/goxrt/platforms/host) for its side effects")
	}
	if !found {
		return nil, errors.Errorf("platform %q not registered, available platforms: %v", name, Registered())
	}
	platform, err := constructor(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating platform %q", name)
	}
	return platform, nil
}
