package poolcore

import (
	"math/rand"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

// Dispatcher is the entry point callers use to submit work to a registered
// model. It is a thin wrapper over Pool: all dispatch state lives on the
// model's entry so multiple Dispatcher values over the same Pool are safe
// to use concurrently.
type Dispatcher struct {
	pool *Pool
}

// NewDispatcher binds a dispatcher to a pool.
func NewDispatcher(pool *Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

// Submit admits req for dispatch to its RegistryKey's workers and blocks
// until a response arrives, the request's deadline passes, or the pool's
// configured request timeout elapses (whichever is sooner). The selection
// strategy is power-of-two-choices: sample two alive workers at random and
// hand the request to whichever has fewer requests in flight. If the first
// handoff attempt races a worker into Dead, Submit rolls back and retries
// against a different worker up to twice before falling back to the
// model's queue.
func (d *Dispatcher) Submit(req *Request) (Response, error) {
	if d.pool.IsShuttingDown() {
		return Response{}, domain.ErrShutdown
	}

	if t := d.pool.cfg.RequestTimeout; t > 0 {
		if limit := time.Now().Add(t); req.Deadline.IsZero() || limit.Before(req.Deadline) {
			req.Deadline = limit
		}
	}

	m, ok := d.pool.entry(req.RegistryKey)
	if !ok {
		return Response{}, domain.ErrNoHealthyWorkers
	}

	if err := m.breaker.Allow(); err != nil {
		return Response{}, err
	}

	d.pool.hooks.fireRequestStart(req.RegistryKey, req.ID)

	if err := d.pool.ensureWorkersSpawned(m); err != nil {
		d.pool.hooks.fireRequestFail(req.RegistryKey, req.ID, err)
		return Response{}, err
	}
	d.pool.maybeScaleOut(m)

	const maxRetries = 2
	for attempt := 0; attempt <= maxRetries; attempt++ {
		worker, ok := d.selectWorker(m.snapshotWorkers())
		if !ok {
			break
		}
		if resp, dispatched := tryHandoff(worker, req); dispatched {
			d.settle(req, resp)
			return resp, resp.Err
		}
		// Handoff raced the worker into a non-ready state; roll back and
		// retry against a freshly sampled worker.
	}

	resp, err := d.enqueueAndWait(m, req)
	return resp, err
}

// selectWorker samples two alive workers at random (or uses the single
// alive worker, if only one exists) and returns the better of the two by
// a three-level comparator: fewer pending_requests wins; on a tie, fewer
// processed_requests wins (biasing warm-up traffic toward older workers);
// on a further tie, lower worker_id wins, so the choice is deterministic
// given the sampled pair. Returns ok=false if no worker is alive.
func (d *Dispatcher) selectWorker(workers []*WorkerHandle) (*WorkerHandle, bool) {
	var alive []*WorkerHandle
	for _, w := range workers {
		if w.Alive() {
			alive = append(alive, w)
		}
	}
	if len(alive) == 0 {
		return nil, false
	}
	if len(alive) == 1 {
		return alive[0], true
	}

	i := rand.Intn(len(alive))
	j := rand.Intn(len(alive) - 1)
	if j >= i {
		j++
	}
	a, b := alive[i], alive[j]
	if betterWorker(a, b) {
		return a, true
	}
	return b, true
}

// betterWorker reports whether a should be preferred over b under the
// pending/processed/worker_id comparator.
func betterWorker(a, b *WorkerHandle) bool {
	if a.Pending() != b.Pending() {
		return a.Pending() < b.Pending()
	}
	if a.Processed() != b.Processed() {
		return a.Processed() < b.Processed()
	}
	return a.WorkerID <= b.WorkerID
}

// tryHandoff attempts a non-blocking send of req to worker's request
// channel, then waits for the reply. A false return means the channel
// send itself could not proceed (the worker stopped being ready between
// selection and send) — the caller should pick a different worker.
func tryHandoff(worker *WorkerHandle, req *Request) (Response, bool) {
	if !worker.Alive() {
		return Response{}, false
	}

	worker.pendingRequests.Add(1)
	select {
	case worker.requestTx <- req:
	default:
		worker.pendingRequests.Add(-1)
		return Response{}, false
	}

	resp := waitForResponse(req)
	worker.pendingRequests.Add(-1)
	return resp, true
}

func waitForResponse(req *Request) Response {
	var timeoutCh <-chan time.Time
	if !req.Deadline.IsZero() {
		timeoutCh = time.After(time.Until(req.Deadline))
	}
	select {
	case resp := <-req.responseTx:
		return resp
	case <-req.ctx.Done():
		return Response{Err: domain.ErrTimeout}
	case <-timeoutCh:
		return Response{Err: domain.ErrTimeout}
	}
}

// enqueueAndWait is the fallback path when no worker could take the
// request immediately: it joins the model's priority/normal queue and
// waits for the dispatch loop to hand it to a worker as one frees up.
func (d *Dispatcher) enqueueAndWait(m *modelEntry, req *Request) (Response, error) {
	if err := m.queue.Enqueue(req); err != nil {
		d.pool.hooks.fireRequestFail(req.RegistryKey, req.ID, err)
		return Response{}, err
	}
	m.ping()

	resp := waitForResponse(req)
	d.settle(req, resp)
	return resp, resp.Err
}

func (d *Dispatcher) settle(req *Request, resp Response) {
	if resp.Err != nil {
		d.pool.hooks.fireRequestFail(req.RegistryKey, req.ID, resp.Err)
	} else {
		d.pool.hooks.fireRequestComplete(req.RegistryKey, req.ID)
	}
}

// dispatchLoop drains m's queue onto idle workers as they become
// available. It wakes on m.wake (pinged by Enqueue, by a worker returning
// to Ready, and by a successful spawn) and exits when m.stopCh closes.
func (p *Pool) dispatchLoop(m *modelEntry) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wake:
		}

		for {
			worker, ok := idleWorker(m.snapshotWorkers())
			if !ok {
				break
			}
			req := m.queue.Dequeue()
			if req == nil {
				break
			}
			if req.expired(time.Now()) {
				req.reply(Response{Err: domain.ErrTimeout})
				continue
			}

			worker.pendingRequests.Add(1)
			select {
			case worker.requestTx <- req:
				p.wireQueuedSettle(worker, req)
			default:
				worker.pendingRequests.Add(-1)
				// Worker stopped being ready between the idleWorker scan
				// and the send; put the request back and try another.
				_ = m.queue.Enqueue(req)
			}
		}
	}
}

// wireQueuedSettle augments req's onSettle (already set by Enqueue for
// coalescing leaders, nil otherwise) so that handing a queued request to a
// worker releases that worker's pending-request count once the worker
// replies. reply() calls onSettle synchronously, so this never spawns a
// goroutine per request. Lifecycle hooks still fire uniformly from
// enqueueAndWait, which is what every caller (leader or follower) is
// actually blocked in.
func (p *Pool) wireQueuedSettle(worker *WorkerHandle, req *Request) {
	inner := req.onSettle
	req.onSettle = func(resp Response) {
		worker.pendingRequests.Add(-1)
		if inner != nil {
			inner(resp)
		}
	}
}

func idleWorker(workers []*WorkerHandle) (*WorkerHandle, bool) {
	for _, w := range workers {
		if w.State() == StateReady {
			return w, true
		}
	}
	return nil, false
}
