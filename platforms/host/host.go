// Package host implements an in-process reference platform: devices are simulated with
// plain host memory, and programs are small named kernels (see kernels.go), including
// dispatch to process-wide registered custom-call targets.
//
// It is always available (no hardware or plugin required), which makes it the platform of
// choice for tests and for exercising the runtime's concurrency and ownership machinery.
// Importing the package registers it under the name "host".
package host

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gomlx/goxrt/platforms"
	"github.com/pkg/errors"
)

// Name under which the platform registers itself.
const Name = "host"

// DevicesEnv is the environment variable overriding the default number of simulated
// devices.
const DevicesEnv = "GOXRT_HOST_DEVICES"

// DefaultNumDevices used when neither the config string nor $GOXRT_HOST_DEVICES is set.
const DefaultNumDevices = 2

func init() {
	platforms.Register(Name, func(config string) (platforms.Platform, error) {
		return New(config)
	})
}

// Platform simulates numDevices accelerator devices backed by host memory.
// It tracks live allocations, which tests use to verify buffer ownership accounting.
type Platform struct {
	numDevices int

	allocationsAlive atomic.Int64
	bytesAlive       atomic.Int64

	infeeds  []*feedQueue
	outfeeds []*feedQueue
}

// New creates a host platform. The config string may hold the number of simulated
// devices; when empty, $GOXRT_HOST_DEVICES is used, and failing that DefaultNumDevices.
func New(config string) (*Platform, error) {
	if config == "" {
		config = os.Getenv(DevicesEnv)
	}
	numDevices := DefaultNumDevices
	if config != "" {
		var err error
		numDevices, err = strconv.Atoi(config)
		if err != nil || numDevices <= 0 {
			return nil, errors.Errorf("host platform config must be a positive number of devices, got %q", config)
		}
	}
	p := &Platform{
		numDevices: numDevices,
		infeeds:    make([]*feedQueue, numDevices),
		outfeeds:   make([]*feedQueue, numDevices),
	}
	for ii := range p.infeeds {
		p.infeeds[ii] = newFeedQueue()
		p.outfeeds[ii] = newFeedQueue()
	}
	return p, nil
}

// Name implements platforms.Platform.
func (p *Platform) Name() string { return Name }

// NumDevices implements platforms.Platform.
func (p *Platform) NumDevices() int { return p.numDevices }

// String implements fmt.Stringer.
func (p *Platform) String() string {
	return fmt.Sprintf("Platform[%s, %d simulated devices]", Name, p.numDevices)
}

// AllocationsAlive returns the number of live device allocations across all simulated
// devices.
func (p *Platform) AllocationsAlive() int64 { return p.allocationsAlive.Load() }

// BytesAlive returns the total bytes of live device allocations.
func (p *Platform) BytesAlive() int64 { return p.bytesAlive.Load() }

func (p *Platform) checkOrdinal(deviceOrdinal int) error {
	if deviceOrdinal < 0 || deviceOrdinal >= p.numDevices {
		return errors.Errorf("device ordinal %d out-of-range, platform %q has %d devices", deviceOrdinal, Name, p.numDevices)
	}
	return nil
}

// memory is one simulated device allocation.
type memory struct {
	platform      *Platform
	deviceOrdinal int
	data          []byte
	freed         atomic.Bool
}

// DeviceOrdinal implements platforms.Memory.
func (m *memory) DeviceOrdinal() int { return m.deviceOrdinal }

// SizeBytes implements platforms.Memory.
func (m *memory) SizeBytes() int { return len(m.data) }

// Free implements platforms.Memory. Idempotent.
func (m *memory) Free() {
	if !m.freed.CompareAndSwap(false, true) {
		return
	}
	m.platform.allocationsAlive.Add(-1)
	m.platform.bytesAlive.Add(-int64(len(m.data)))
	m.data = nil
}

// Allocate implements platforms.Platform.
func (p *Platform) Allocate(deviceOrdinal int, sizeBytes int) (platforms.Memory, error) {
	if err := p.checkOrdinal(deviceOrdinal); err != nil {
		return nil, err
	}
	if sizeBytes < 0 {
		return nil, errors.Errorf("cannot allocate %d bytes on device #%d", sizeBytes, deviceOrdinal)
	}
	p.allocationsAlive.Add(1)
	p.bytesAlive.Add(int64(sizeBytes))
	return &memory{platform: p, deviceOrdinal: deviceOrdinal, data: make([]byte, sizeBytes)}, nil
}

// TransferToDevice implements platforms.Platform.
func (p *Platform) TransferToDevice(deviceOrdinal int, data []byte) (platforms.Memory, error) {
	mem, err := p.Allocate(deviceOrdinal, len(data))
	if err != nil {
		return nil, err
	}
	copy(mem.(*memory).data, data)
	return mem, nil
}

// TransferFromDevice implements platforms.Platform.
func (p *Platform) TransferFromDevice(mem platforms.Memory, dst []byte) error {
	m, err := p.ownMemory(mem)
	if err != nil {
		return err
	}
	if len(dst) != len(m.data) {
		return errors.Errorf("TransferFromDevice given a %d bytes destination for a %d bytes allocation", len(dst), len(m.data))
	}
	copy(dst, m.data)
	return nil
}

// ownMemory checks the memory belongs to this platform and is still allocated.
func (p *Platform) ownMemory(mem platforms.Memory) (*memory, error) {
	m, ok := mem.(*memory)
	if !ok || m.platform != p {
		return nil, errors.Errorf("memory %v was not allocated by this host platform", mem)
	}
	if m.freed.Load() {
		return nil, errors.New("memory has already been freed")
	}
	return m, nil
}

// TransferToInfeed implements platforms.Platform.
func (p *Platform) TransferToInfeed(deviceOrdinal int, leaves [][]byte) error {
	if err := p.checkOrdinal(deviceOrdinal); err != nil {
		return err
	}
	p.infeeds[deviceOrdinal].push(leaves)
	return nil
}

// TransferFromOutfeed implements platforms.Platform.
func (p *Platform) TransferFromOutfeed(deviceOrdinal int, sizes []int) ([][]byte, error) {
	if err := p.checkOrdinal(deviceOrdinal); err != nil {
		return nil, err
	}
	return p.outfeeds[deviceOrdinal].pop(sizes)
}

// PushToOutfeed makes the leaf buffers available to TransferFromOutfeed, as a device
// program would. The "outfeed" kernel uses it; tests can call it directly.
func (p *Platform) PushToOutfeed(deviceOrdinal int, leaves [][]byte) error {
	if err := p.checkOrdinal(deviceOrdinal); err != nil {
		return err
	}
	p.outfeeds[deviceOrdinal].push(leaves)
	return nil
}

// feedQueue is an unbounded FIFO of data buffers guarded by a mutex+cond, simulating a
// device's infeed or outfeed stream.
type feedQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buffers [][]byte
}

func newFeedQueue() *feedQueue {
	q := &feedQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *feedQueue) push(leaves [][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, leaf := range leaves {
		buffer := make([]byte, len(leaf))
		copy(buffer, leaf)
		q.buffers = append(q.buffers, buffer)
	}
	q.cond.Broadcast()
}

// pop blocks until len(sizes) buffers are available, and checks their sizes match.
func (q *feedQueue) pop(sizes []int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buffers) < len(sizes) {
		q.cond.Wait()
	}
	popped := q.buffers[:len(sizes)]
	q.buffers = q.buffers[len(sizes):]
	for ii, buffer := range popped {
		if len(buffer) != sizes[ii] {
			return nil, errors.Errorf("feed queue holds a %d bytes buffer at position %d, but %d bytes were requested -- mismatched feed shapes?",
				len(buffer), ii, sizes[ii])
		}
	}
	return popped, nil
}
