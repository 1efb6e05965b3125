package ingest

import "sync"

// job is one unit of per-device work.
type job func()

// deviceQueues runs jobs on one bounded queue and one worker per device.
//
// Queues and workers are created lazily on a device's first message. The
// bound keeps one flooding device from consuming unbounded memory; a full
// queue drops the new job rather than blocking the MQTT receive path.
type deviceQueues struct {
	size   int
	queues map[string]chan job
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func newDeviceQueues(size int) *deviceQueues {
	if size <= 0 {
		size = 64
	}
	return &deviceQueues{
		size:   size,
		queues: make(map[string]chan job),
	}
}

// enqueue submits a job for a device, creating its queue and worker on
// first use. Returns false when the job was dropped (queue full or
// pipeline stopped).
//
// The send happens under the mutex so stop() cannot close the channel
// between the closed check and the send. The send never blocks, so
// holding the lock is safe.
func (q *deviceQueues) enqueue(deviceID string, j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	ch, ok := q.queues[deviceID]
	if !ok {
		ch = make(chan job, q.size)
		q.queues[deviceID] = ch
		q.wg.Add(1)
		go q.worker(ch)
	}

	select {
	case ch <- j:
		return true
	default:
		return false
	}
}

// worker drains one device's queue in order.
func (q *deviceQueues) worker(ch <-chan job) {
	defer q.wg.Done()
	for j := range ch {
		j()
	}
}

// stop closes all queues and waits for in-flight jobs to finish.
func (q *deviceQueues) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
