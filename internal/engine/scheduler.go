package engine

import (
	"container/heap"
	"sync"
	"time"
)

// scheduledJob is one pending schedule(module, reducer, delay_ms) call,
// ordered by wake time and, for ties, by enqueue order.
type scheduledJob struct {
	at       time.Time
	seq      uint64
	module   string
	reducer  string
}

type jobHeap []scheduledJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(scheduledJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduler runs scheduled reducer calls at their wake time, one
// goroutine per Engine, woken either by a new job arriving earlier than
// the current timer or by the timer itself firing.
type scheduler struct {
	mu   sync.Mutex
	jobs jobHeap
	seq  uint64

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	run func(module, reducer string)
}

func newScheduler(run func(module, reducer string)) *scheduler {
	s := &scheduler{
		wake:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:  make(chan struct{}),
		run:   run,
	}
	go s.loop()
	return s
}

func (s *scheduler) add(module, reducer string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.jobs, scheduledJob{at: time.Now().Add(delay), seq: s.seq, module: module, reducer: reducer})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) stop() {
	close(s.stopCh)
	<-s.done
}

func (s *scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		var timerC <-chan time.Time
		if len(s.jobs) > 0 {
			d := time.Until(s.jobs[0].at)
			if d < 0 {
				d = 0
			}
			timerC = time.After(d)
		}
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			continue
		case <-timerC:
			s.runReady()
		}
	}
}

func (s *scheduler) runReady() {
	now := time.Now()
	var ready []scheduledJob
	s.mu.Lock()
	for len(s.jobs) > 0 && !s.jobs[0].at.After(now) {
		j := heap.Pop(&s.jobs).(scheduledJob)
		ready = append(ready, j)
	}
	s.mu.Unlock()

	for _, j := range ready {
		s.run(j.module, j.reducer)
	}
}
