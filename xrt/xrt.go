// Package xrt is a local execution runtime for accelerator devices: it runs compiled
// device programs over device-resident buffers, once per device for single-device jobs or
// once per replica across devices for replicated jobs, while keeping correct ownership and
// lifetime of device memory.
//
// The runtime is built on three pieces:
//
//   - Buffer / DeviceBuffer: host handles over a reference-counted DAG of device
//     allocations, so several handles (and tuple sub-buffer views) can share parts of an
//     on-device value without copying or double-freeing.
//   - Client: owns one dedicated worker goroutine per device ordinal -- all launches and
//     device-side transfers for an ordinal are serialized through its worker, while
//     different ordinals run concurrently -- plus a bounded limiter for host-to-device
//     conversions.
//   - LoadedExecutable: a compiled program bound to a replica-to-device assignment, with
//     Execute for the single-replica case and ExecutePerReplica fanning out one task per
//     replica and rejoining results in replica order.
//
// The low-level device primitives (allocation, raw transfer, compilation, kernel launch)
// are provided by a platforms.Platform; see github.com/gomlx/goxrt/platforms/host for the
// always-available in-process reference platform.
package xrt
