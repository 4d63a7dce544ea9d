package platforms

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CustomCallTarget is a native function invoked by a compiled program through a
// custom-call instruction. It receives the leaf data buffers of all arguments in
// depth-first order, and returns the output leaf buffers, shaped like the first argument
// (custom calls are shape preserving). It must not retain or mutate the input buffers.
type CustomCallTarget func(deviceOrdinal int, inputs [][]byte) ([][]byte, error)

var (
	muCustomCalls     sync.RWMutex
	customCallTargets = make(map[string]CustomCallTarget)
)

// RegisterCustomCallTarget registers the native function under the given name, in a
// process-wide registry shared by all platforms and clients.
//
// The last registration for a given name wins: independently loaded programs that
// register colliding names silently shadow each other, so name collisions are the
// caller's responsibility to avoid. An overwrite is logged as a warning to keep
// collisions diagnosable. There is no unregistration.
func RegisterCustomCallTarget(name string, target CustomCallTarget) error {
	if name == "" {
		return errors.New("RegisterCustomCallTarget requires a non-empty name")
	}
	if target == nil {
		return errors.Errorf("RegisterCustomCallTarget(%q) given a nil target", name)
	}
	muCustomCalls.Lock()
	defer muCustomCalls.Unlock()
	if _, found := customCallTargets[name]; found {
		klog.Warningf("RegisterCustomCallTarget: overwriting previously registered custom-call target %q", name)
	}
	customCallTargets[name] = target
	return nil
}

// LookupCustomCallTarget returns the registered target for the name, or an error if no
// target was registered under it.
func LookupCustomCallTarget(name string) (CustomCallTarget, error) {
	muCustomCalls.RLock()
	defer muCustomCalls.RUnlock()
	target, found := customCallTargets[name]
	if !found {
		return nil, errors.Errorf("no custom-call target registered under %q", name)
	}
	return target, nil
}
