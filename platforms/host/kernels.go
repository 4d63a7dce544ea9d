package host

import (
	"strings"
	"sync/atomic"

	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
)

// KernelFormat is the only program format the host platform compiles: the program code is
// the kernel spec string itself.
//
// Supported kernel specs:
//
//   - "identity": returns a copy of its first argument.
//   - "tuple": groups copies of all its arguments into a tuple.
//   - "infeed": returns a value shaped like its first argument, with data dequeued from
//     the device's infeed.
//   - "outfeed": enqueues the leaves of all its arguments to the device's outfeed, and
//     returns a copy of its first argument.
//   - "custom-call:<name>": dispatches to the custom-call target registered process-wide
//     under <name> (see platforms.RegisterCustomCallTarget). Custom calls are shape
//     preserving: the output is shaped like the first argument. The target is resolved at
//     execution time, so registration may happen after compilation.
const KernelFormat = "kernel"

// CustomCallPrefix of the kernel specs that dispatch to a registered custom-call target.
const CustomCallPrefix = "custom-call:"

type kernelFunc func(e *executable, deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error)

// executable is a compiled host kernel.
type executable struct {
	platform    *Platform
	spec        string
	kernel      kernelFunc
	argLayouts  []shapes.Shape
	outputShape shapes.Shape
	freed       atomic.Bool
}

// Compile implements platforms.Platform.
func (p *Platform) Compile(program []byte, format string, argLayouts []shapes.Shape, opts platforms.BuildOptions) (platforms.Executable, error) {
	if format != KernelFormat {
		return nil, errors.Errorf("host platform only compiles %q programs, got format %q", KernelFormat, format)
	}
	for ii, layout := range argLayouts {
		if !layout.Ok() {
			return nil, errors.Errorf("invalid layout %s for argument #%d", layout, ii)
		}
	}
	e := &executable{platform: p, spec: string(program), argLayouts: argLayouts}
	switch {
	case e.spec == "identity" || e.spec == "infeed" || e.spec == "outfeed" || strings.HasPrefix(e.spec, CustomCallPrefix):
		// Shape-preserving kernels.
		if len(argLayouts) == 0 {
			return nil, errors.Errorf("kernel %q requires at least one argument layout", e.spec)
		}
		e.outputShape = argLayouts[0].Clone()
	case e.spec == "tuple":
		if len(argLayouts) == 0 {
			return nil, errors.Errorf("kernel %q requires at least one argument layout", e.spec)
		}
		e.outputShape = shapes.MakeTuple(argLayouts...)
	default:
		return nil, errors.Errorf("unknown host kernel %q", e.spec)
	}
	switch {
	case e.spec == "identity":
		e.kernel = identityKernel
	case e.spec == "tuple":
		e.kernel = tupleKernel
	case e.spec == "infeed":
		e.kernel = infeedKernel
	case e.spec == "outfeed":
		e.kernel = outfeedKernel
	default:
		e.kernel = customCallKernel
	}
	return e, nil
}

// Name implements platforms.Executable.
func (e *executable) Name() string { return e.spec }

// OutputShape implements platforms.Executable.
func (e *executable) OutputShape() shapes.Shape { return e.outputShape }

// MemoryUsage implements platforms.Executable.
func (e *executable) MemoryUsage() platforms.MemoryUsageStats {
	stats := platforms.MemoryUsageStats{OnHostBytes: len(e.spec)}
	for _, layout := range e.argLayouts {
		stats.OnDeviceBytes += layout.Memory()
	}
	stats.OnDeviceBytes += e.outputShape.Memory()
	return stats
}

// Free implements platforms.Executable. Idempotent.
func (e *executable) Free() {
	e.freed.Store(true)
}

// Execute implements platforms.Executable.
func (e *executable) Execute(deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error) {
	if e.freed.Load() {
		return nil, errors.Errorf("executable %q has already been freed", e.spec)
	}
	if err := e.platform.checkOrdinal(deviceOrdinal); err != nil {
		return nil, err
	}
	if len(args) != len(e.argLayouts) {
		return nil, errors.Errorf("executable %q takes %d arguments, got %d", e.spec, len(e.argLayouts), len(args))
	}
	for ii, argLeaves := range args {
		if len(argLeaves) != e.argLayouts[ii].NumLeaves() {
			return nil, errors.Errorf("argument #%d of executable %q shaped %s requires %d leaf buffers, got %d",
				ii, e.spec, e.argLayouts[ii], e.argLayouts[ii].NumLeaves(), len(argLeaves))
		}
	}
	return e.kernel(e, deviceOrdinal, args)
}

// readLeaves returns the raw data of the given leaf memories.
func (e *executable) readLeaves(leaves []platforms.Memory) ([][]byte, error) {
	data := make([][]byte, len(leaves))
	for ii, leaf := range leaves {
		m, err := e.platform.ownMemory(leaf)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading leaf buffer #%d of executable %q", ii, e.spec)
		}
		data[ii] = m.data
	}
	return data, nil
}

// allocateLeaves copies each data buffer into a fresh allocation on the device.
// On failure it frees the allocations made so far.
func (e *executable) allocateLeaves(deviceOrdinal int, data [][]byte) ([]platforms.Memory, error) {
	leaves := make([]platforms.Memory, 0, len(data))
	for _, buffer := range data {
		mem, err := e.platform.TransferToDevice(deviceOrdinal, buffer)
		if err != nil {
			for _, allocated := range leaves {
				allocated.Free()
			}
			return nil, err
		}
		leaves = append(leaves, mem)
	}
	return leaves, nil
}

func identityKernel(e *executable, deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error) {
	data, err := e.readLeaves(args[0])
	if err != nil {
		return nil, err
	}
	return e.allocateLeaves(deviceOrdinal, data)
}

func tupleKernel(e *executable, deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error) {
	var data [][]byte
	for _, argLeaves := range args {
		argData, err := e.readLeaves(argLeaves)
		if err != nil {
			return nil, err
		}
		data = append(data, argData...)
	}
	return e.allocateLeaves(deviceOrdinal, data)
}

func infeedKernel(e *executable, deviceOrdinal int, _ [][]platforms.Memory) ([]platforms.Memory, error) {
	leafShapes := e.outputShape.LeafShapes()
	sizes := make([]int, len(leafShapes))
	for ii, leafShape := range leafShapes {
		sizes[ii] = leafShape.Memory()
	}
	data, err := e.platform.infeeds[deviceOrdinal].pop(sizes)
	if err != nil {
		return nil, errors.WithMessagef(err, "kernel %q dequeuing from infeed of device #%d", e.spec, deviceOrdinal)
	}
	return e.allocateLeaves(deviceOrdinal, data)
}

func outfeedKernel(e *executable, deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error) {
	for _, argLeaves := range args {
		data, err := e.readLeaves(argLeaves)
		if err != nil {
			return nil, err
		}
		e.platform.outfeeds[deviceOrdinal].push(data)
	}
	return identityKernel(e, deviceOrdinal, args)
}

func customCallKernel(e *executable, deviceOrdinal int, args [][]platforms.Memory) ([]platforms.Memory, error) {
	name := strings.TrimPrefix(e.spec, CustomCallPrefix)
	target, err := platforms.LookupCustomCallTarget(name)
	if err != nil {
		return nil, err
	}
	var inputs [][]byte
	for _, argLeaves := range args {
		data, err := e.readLeaves(argLeaves)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, data...)
	}
	outputs, err := target(deviceOrdinal, inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "custom-call target %q failed on device #%d", name, deviceOrdinal)
	}
	leafShapes := e.outputShape.LeafShapes()
	if len(outputs) != len(leafShapes) {
		return nil, errors.Errorf("custom-call target %q returned %d leaf buffers, output shaped %s requires %d",
			name, len(outputs), e.outputShape, len(leafShapes))
	}
	for ii, output := range outputs {
		if len(output) != leafShapes[ii].Memory() {
			return nil, errors.Errorf("custom-call target %q returned %d bytes for leaf #%d, shape %s requires %d",
				name, len(output), ii, leafShapes[ii], leafShapes[ii].Memory())
		}
	}
	return e.allocateLeaves(deviceOrdinal, outputs)
}
