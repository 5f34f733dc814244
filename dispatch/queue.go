package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a lock-free FIFO of tasks, standing for the host UI thread.
// Any goroutine may [Queue.Post]; tasks only run on the goroutine calling
// [Queue.Drain] or [Queue.Run]. The zero value is not ready to use: call
// [NewQueue].
type Queue struct {
	head atomic.Pointer[queueTask]
	tail atomic.Pointer[queueTask]
	len  atomic.Int64

	wake chan struct{} // signaled on Post, buffered 1
}

type queueTask struct {
	next atomic.Pointer[queueTask]
	fn   func()
}

var queueTaskPool = sync.Pool{
	New: func() any { return &queueTask{} },
}

func NewQueue() *Queue {
	q := &Queue{wake: make(chan struct{}, 1)}
	head := &queueTask{}
	q.head.Store(head)
	q.tail.Store(head)
	return q
}

// Post adds fn to the end of the queue.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	t := queueTaskPool.Get().(*queueTask)
	t.next.Store(nil)
	t.fn = fn

	var last, lastnext *queueTask
	for {
		last = q.tail.Load()
		lastnext = last.next.Load()
		if q.tail.Load() == last {
			if lastnext == nil {
				if last.next.CompareAndSwap(lastnext, t) {
					q.tail.CompareAndSwap(last, t)
					q.len.Add(1)
					break
				}
			} else {
				q.tail.CompareAndSwap(last, lastnext)
			}
		}
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next removes and returns the first task, or nil.
func (q *Queue) next() func() {
	var first, last, firstnext *queueTask
	for {
		first = q.head.Load()
		last = q.tail.Load()
		firstnext = first.next.Load()
		if first == q.head.Load() {
			if first == last {
				if firstnext == nil {
					return nil
				}
				q.tail.CompareAndSwap(last, firstnext)
			} else {
				fn := firstnext.fn
				if q.head.CompareAndSwap(first, firstnext) {
					q.len.Add(-1)
					first.fn = nil
					queueTaskPool.Put(first)
					return fn
				}
			}
		}
	}
}

// Drain runs the queued tasks in order, including the ones posted while
// draining, and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for fn := q.next(); fn != nil; fn = q.next() {
		fn()
		n++
	}
	return n
}

// Run drains the queue each time a task is posted, until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int { return int(q.len.Load()) }
