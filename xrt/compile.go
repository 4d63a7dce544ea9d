package xrt

import (
	"github.com/gomlx/goxrt/platforms"
	"github.com/gomlx/goxrt/shapes"
	"github.com/pkg/errors"
)

// CompileConfig is created with Client.Compile, and is used to configure the compilation
// of a program into a LoadedExecutable.
//
// At a minimum set the program with WithProgram. The compilation happens when Done is
// called.
type CompileConfig struct {
	client  *Client
	program []byte
	format  string

	argLayouts       []shapes.Shape
	numReplicas      int
	deviceAssignment []int

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// Compile starts the configuration of a compilation. It compiles for a single replica on
// device #0 by default; change it with WithNumReplicas and WithDeviceAssignment. Call
// Done to run the compilation.
func (c *Client) Compile() *CompileConfig {
	return &CompileConfig{
		client:      c,
		numReplicas: 1,
		err:         c.alive(),
	}
}

// WithProgram sets the program to compile: its serialized bytes and the name of the
// format they are encoded in. Which formats are accepted depends on the platform.
func (cc *CompileConfig) WithProgram(program []byte, format string) *CompileConfig {
	if cc.err != nil {
		return cc
	}
	if len(program) == 0 {
		cc.err = errors.New("Compile.WithProgram given an empty program")
		return cc
	}
	if format == "" {
		cc.err = errors.New("Compile.WithProgram given an empty format name")
		return cc
	}
	cc.program = program
	cc.format = format
	return cc
}

// WithArgumentLayouts declares the shapes of the arguments the compiled program will be
// executed with, in order. Arguments may be tuple-shaped.
func (cc *CompileConfig) WithArgumentLayouts(layouts ...shapes.Shape) *CompileConfig {
	if cc.err != nil {
		return cc
	}
	for ii, layout := range layouts {
		if !layout.Ok() {
			cc.err = errors.Errorf("Compile.WithArgumentLayouts given invalid shape for argument #%d", ii)
			return cc
		}
	}
	cc.argLayouts = layouts
	return cc
}

// WithNumReplicas sets the number of replicas the program will be dispatched over. Each
// replica is pinned to one device; unless WithDeviceAssignment is also given, replica #i
// runs on device ordinal i.
func (cc *CompileConfig) WithNumReplicas(numReplicas int) *CompileConfig {
	if cc.err != nil {
		return cc
	}
	if numReplicas <= 0 {
		cc.err = errors.Errorf("Compile.WithNumReplicas(%d): it requires at least one replica", numReplicas)
		return cc
	}
	cc.numReplicas = numReplicas
	return cc
}

// WithDeviceAssignment pins each replica to a device ordinal: replica #i runs on
// assignment[i]. Its length must match the number of replicas.
func (cc *CompileConfig) WithDeviceAssignment(assignment ...int) *CompileConfig {
	if cc.err != nil {
		return cc
	}
	cc.deviceAssignment = assignment
	return cc
}

// Done compiles the program with the configuration set so far, and returns the new
// LoadedExecutable.
func (cc *CompileConfig) Done() (*LoadedExecutable, error) {
	if cc.err != nil {
		return nil, cc.err
	}
	if cc.program == nil {
		return nil, errors.New("Compile requires a program, use WithProgram")
	}
	client := cc.client
	if err := client.alive(); err != nil {
		return nil, err
	}
	assignment := cc.deviceAssignment
	if assignment == nil {
		assignment = platforms.DefaultDeviceAssignment(cc.numReplicas)
	}
	if len(assignment) != cc.numReplicas {
		return nil, errors.Errorf("Compile given a device assignment of %d entries for %d replicas", len(assignment), cc.numReplicas)
	}
	numDevices := client.NumDevices()
	for replica, ordinal := range assignment {
		if ordinal < 0 || ordinal >= numDevices {
			return nil, errors.Errorf("Compile assigns replica #%d to device ordinal %d, but client has %d devices",
				replica, ordinal, numDevices)
		}
	}
	exec, err := client.platform.Compile(cc.program, cc.format, cc.argLayouts, platforms.BuildOptions{
		NumReplicas:      cc.numReplicas,
		DeviceAssignment: assignment,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Compile(format=%q)", cc.format)
	}
	return newLoadedExecutable(client, exec, cc.argLayouts, assignment), nil
}
