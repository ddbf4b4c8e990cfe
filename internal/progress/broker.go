// Package progress implements a per-job Server-Sent Events broker: each
// pipeline job gets an ordered event stream that late subscribers can
// replay from the beginning, so a client that reconnects after `done` still
// receives the terminal event.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// Pipeline stages, in order. A job's stream emits stages monotonically;
// only `transcribing` carries progress counters, only `done` carries a
// result, only `error` carries an error message.
const (
	StageUploading     = "uploading"
	StagePreprocessing = "preprocessing"
	StageTranscribing  = "transcribing"
	StageSavingOutput  = "saving_output"
	StageDone          = "done"
	StageError         = "error"
)

// Event is one structured progress update for a job.
type Event struct {
	Stage   string `json:"stage"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Terminal reports whether the event ends its job's stream.
func (e Event) Terminal() bool {
	return e.Stage == StageDone || e.Stage == StageError
}

type publishReq struct {
	jobID string
	event Event
}

type subscribeReq struct {
	jobID string
	resp  chan chan []byte
}

type unsubscribeReq struct {
	jobID string
	ch    chan []byte
}

// stream is the broker-loop-owned state for one job.
type stream struct {
	history  [][]byte
	subs     map[chan []byte]struct{}
	terminal bool
}

// Broker manages per-job progress streams.
//
// Concurrency model: a single internal event loop (goroutine) owns all
// mutable state. Public methods communicate with this loop through
// channels, so no mutexes are required.
type Broker struct {
	publishCh     chan publishReq
	subscribeCh   chan subscribeReq
	unsubscribeCh chan unsubscribeReq
	dropCh        chan string

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its event loop.
func NewBroker() *Broker {
	b := &Broker{
		publishCh:     make(chan publishReq, 256),
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan unsubscribeReq),
		dropCh:        make(chan string),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	streams := make(map[string]*stream)

	for {
		select {
		case <-b.stopCh:
			for _, st := range streams {
				for ch := range st.subs {
					close(ch)
				}
			}
			return

		case req := <-b.publishCh:
			st := streams[req.jobID]
			if st == nil {
				st = &stream{subs: make(map[chan []byte]struct{})}
				streams[req.jobID] = st
			}
			if st.terminal {
				// Nothing may follow done/error.
				continue
			}
			payload, err := json.Marshal(req.event)
			if err != nil {
				continue
			}
			msg := []byte(fmt.Sprintf("data: %s\n\n", payload))
			st.history = append(st.history, msg)
			for ch := range st.subs {
				select {
				case ch <- msg:
				default:
					// Subscriber buffer full; skip to avoid blocking the loop.
				}
			}
			if req.event.Terminal() {
				st.terminal = true
				for ch := range st.subs {
					close(ch)
				}
				st.subs = make(map[chan []byte]struct{})
			}

		case req := <-b.subscribeCh:
			st := streams[req.jobID]
			if st == nil {
				st = &stream{subs: make(map[chan []byte]struct{})}
				streams[req.jobID] = st
			}
			// Size the buffer so the full replay can never block the loop.
			ch := make(chan []byte, len(st.history)+64)
			for _, msg := range st.history {
				ch <- msg
			}
			if st.terminal {
				close(ch)
			} else {
				st.subs[ch] = struct{}{}
			}
			req.resp <- ch

		case req := <-b.unsubscribeCh:
			if st := streams[req.jobID]; st != nil {
				if _, ok := st.subs[req.ch]; ok {
					delete(st.subs, req.ch)
					close(req.ch)
				}
			}

		case jobID := <-b.dropCh:
			if st := streams[jobID]; st != nil {
				for ch := range st.subs {
					close(ch)
				}
				delete(streams, jobID)
			}
		}
	}
}

// Close gracefully stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Publish appends an event to a job's stream and fans it out to
// subscribers. Events published after a terminal event are discarded.
func (b *Broker) Publish(jobID string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{jobID: jobID, event: event}:
	case <-b.stopped:
	}
}

// Subscribe returns a channel that replays the job's history and then
// streams live events. The channel is closed after the terminal event (or
// immediately after replay if the job already finished).
func (b *Broker) Subscribe(jobID string) chan []byte {
	if b.closed.Load() {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	resp := make(chan chan []byte, 1)
	select {
	case b.subscribeCh <- subscribeReq{jobID: jobID, resp: resp}:
	case <-b.stopped:
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	select {
	case ch := <-resp:
		return ch
	case <-b.stopped:
		ch := make(chan []byte)
		close(ch)
		return ch
	}
}

// Unsubscribe detaches a live subscriber. Disconnecting never affects the
// underlying job.
func (b *Broker) Unsubscribe(jobID string, ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- unsubscribeReq{jobID: jobID, ch: ch}:
	case <-b.stopped:
	}
}

// Drop discards a job's stream and history, closing any subscribers. Called
// when the job registry evicts the job.
func (b *Broker) Drop(jobID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.dropCh <- jobID:
	case <-b.stopped:
	}
}

// ServeJob streams a job's events to w as Server-Sent Events until the
// stream ends or the client disconnects.
func (b *Broker) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(jobID)
	defer b.Unsubscribe(jobID, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
