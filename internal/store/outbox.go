package store

import (
	"errors"
	"io"
	"sync"

	"goshare-relay/internal/protocol"

	"github.com/sirupsen/logrus"
)

var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is the single writer of one connection. Frames and stream turns are
// queued and reach the connection in order, so Send never waits for a
// transfer that is being relayed to the same connection.
type Outbox struct {
	w io.Writer

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []outboxItem
	closed bool
	err    error
}

type outboxItem struct {
	frame string
	turn  *streamTurn
}

type streamTurn struct {
	start chan struct{}
	done  chan struct{}
	err   error
}

// NewOutbox starts the writer goroutine. Close stops it.
func NewOutbox(w io.Writer) *Outbox {
	o := &Outbox{w: w}
	o.cond = sync.NewCond(&o.mu)
	go o.writeLoop()
	return o
}

// Send queues one text frame. It only fails once the outbox is closed.
func (o *Outbox) Send(frame string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return o.err
	}
	o.queue = append(o.queue, outboxItem{frame: frame})
	o.cond.Signal()
	return nil
}

// Stream waits until every earlier item is written, then gives fn the
// connection alone until it returns. Frames queued meanwhile follow it. When
// the outbox closes before the turn comes, fn is not called.
func (o *Outbox) Stream(fn func(w io.Writer) error) error {
	turn := &streamTurn{start: make(chan struct{}), done: make(chan struct{})}
	o.mu.Lock()
	if o.closed {
		err := o.err
		o.mu.Unlock()
		return err
	}
	o.queue = append(o.queue, outboxItem{turn: turn})
	o.cond.Signal()
	o.mu.Unlock()

	<-turn.start
	if turn.err != nil {
		return turn.err
	}
	defer close(turn.done)
	return fn(o.w)
}

// Close stops the writer, drops queued frames and closes the underlying
// connection when it is closable. The owning handler then observes a read
// failure and cleans up.
func (o *Outbox) Close() error {
	o.shutdown(ErrOutboxClosed)
	if closer, ok := o.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (o *Outbox) shutdown(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.err = err
	o.cond.Signal()
}

func (o *Outbox) writeLoop() {
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if o.closed {
			pending := o.queue
			o.queue = nil
			err := o.err
			o.mu.Unlock()
			for _, item := range pending {
				if item.turn != nil {
					item.turn.err = err
					close(item.turn.start)
				}
			}
			return
		}
		item := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if item.turn != nil {
			close(item.turn.start)
			<-item.turn.done
			continue
		}
		if err := protocol.WriteFrame(o.w, item.frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "writeLoop",
				"error":    err.Error(),
			}).Warn("Connection write failed, dropping outbox")
			o.shutdown(err)
		}
	}
}
