package logstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrTimeout = errors.New("log channel wait timed out")

// Entry is one item on the channel. End marks the end-of-stream sentinel and
// never carries text.
type Entry struct {
	Text string
	End  bool
}

// Channel is an unbounded FIFO shared by one producer and one consumer.
type Channel struct {
	mu     sync.Mutex
	items  []Entry
	notify chan struct{}
}

func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Push appends a log line. Whitespace-only lines are dropped.
func (c *Channel) Push(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.put(Entry{Text: text})
}

// Close appends the end-of-stream sentinel.
func (c *Channel) Close() {
	c.put(Entry{End: true})
}

func (c *Channel) put(e Entry) {
	c.mu.Lock()
	c.items = append(c.items, e)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest entry, waiting up to timeout for one.
func (c *Channel) Next(ctx context.Context, timeout time.Duration) (Entry, error) {
	if e, ok := c.pop(); ok {
		return e, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-c.notify:
			if e, ok := c.pop(); ok {
				return e, nil
			}
		case <-timer.C:
			// an entry may have landed between the last pop and the deadline
			if e, ok := c.pop(); ok {
				return e, nil
			}
			return Entry{}, ErrTimeout
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

func (c *Channel) pop() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Entry{}, false
	}
	e := c.items[0]
	c.items[0] = Entry{}
	c.items = c.items[1:]
	if len(c.items) > 0 {
		// keep the consumer awake while a backlog remains
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return e, true
}

// Len reports the number of queued entries.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
