package xrt

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// workerQueueCapacity is the buffering of a worker's task channel. Submissions beyond it
// block the submitter until the worker catches up.
const workerQueueCapacity = 16

// workerThread runs tasks sequentially on one dedicated goroutine.
//
// The client creates one per device ordinal: serializing all work destined to a device
// through its own worker removes device-level races, and -- unlike a shared pool -- a task
// waiting on another device's work can never be queued behind the very task it waits for.
type workerThread struct {
	name string
	work chan func()
	done chan struct{}
}

func newWorkerThread(name string) *workerThread {
	w := &workerThread{
		name: name,
		work: make(chan func(), workerQueueCapacity),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *workerThread) loop() {
	defer close(w.done)
	for task := range w.work {
		task()
	}
}

// Schedule enqueues a task. Tasks run strictly in Schedule order.
// It must not be called after Close.
func (w *workerThread) Schedule(task func()) {
	w.work <- task
}

// Close stops the worker after draining already scheduled tasks, and waits for it to exit.
func (w *workerThread) Close() {
	close(w.work)
	<-w.done
}

// runOnDevice schedules the task on the device's worker and blocks until it finishes,
// returning its error. A panicking task is recovered, logged, and surfaced as an error to
// this caller only -- the worker keeps processing subsequent tasks.
func (c *Client) runOnDevice(deviceOrdinal int, task func() error) error {
	worker, err := c.worker(deviceOrdinal)
	if err != nil {
		return err
	}
	errC := make(chan error, 1)
	worker.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				klog.Errorf("%s: task panicked: %v", worker.name, r)
				errC <- errors.Errorf("task panicked on device #%d: %v", deviceOrdinal, r)
			}
		}()
		errC <- task()
	})
	return <-errC
}
