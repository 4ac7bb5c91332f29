package connection

import "sync"

// dispatcher runs hook callbacks in submission order on one goroutine.
// post never blocks, so it is safe to call with locks held.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	running bool
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop lets queued callbacks finish, then ends the goroutine. Later posts
// are dropped.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// wait blocks until stop has taken effect and every queued callback ran.
// It returns at once while a callback is running, since that callback may
// be the caller.
func (d *dispatcher) wait() {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if running {
		return
	}
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			d.running = false
			if len(d.queue) == 0 {
				stopped := d.stopped
				d.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.running = true
			d.mu.Unlock()

			fn()
		}
	}
}
