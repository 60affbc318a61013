package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

const mailboxIdle = time.Minute

type Broadcaster interface {
	SendToRoom(roomID string, msg []byte) error
}

// Envelope is the wire form of every event pushed to a client.
type Envelope struct {
	Event     models.EventKind `json:"event"`
	SessionID string           `json:"session_id"`
	Data      any              `json:"data"`
}

// Notifier gives each session a mailbox drained by one goroutine, so events
// reach the client in the order they were sent while a slow client only
// stalls its own session.
type Notifier struct {
	out         Broadcaster
	buffer      int
	sendTimeout time.Duration
	idle        time.Duration
	log         *logger.ZapLogger

	mu    sync.Mutex
	boxes map[string]*mailbox
	done  chan struct{}
	wg    sync.WaitGroup
}

type mailbox struct {
	ch      chan []byte
	pending int
}

var _ ports.Notifier = (*Notifier)(nil)

func NewNotifier(out Broadcaster, buffer int, sendTimeout time.Duration, log *logger.ZapLogger) *Notifier {
	if buffer <= 0 {
		buffer = 1
	}
	return &Notifier{
		out:         out,
		buffer:      buffer,
		sendTimeout: sendTimeout,
		idle:        mailboxIdle,
		log:         log,
		boxes:       make(map[string]*mailbox),
		done:        make(chan struct{}),
	}
}

func (n *Notifier) Send(sessionID string, kind models.EventKind, payload any) {
	msg, err := json.Marshal(Envelope{Event: kind, SessionID: sessionID, Data: payload})
	if err != nil {
		n.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[notify] marshal failed",
			Fields:  map[string]any{"session": sessionID, "event": string(kind)},
			Error:   err,
		})
		return
	}

	n.mu.Lock()
	select {
	case <-n.done:
		n.mu.Unlock()
		return
	default:
	}
	box, ok := n.boxes[sessionID]
	if !ok {
		box = &mailbox{ch: make(chan []byte, n.buffer)}
		n.boxes[sessionID] = box
		n.wg.Add(1)
		go n.drain(sessionID, box)
	}
	box.pending++
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		box.pending--
		n.mu.Unlock()
	}()

	timer := time.NewTimer(n.sendTimeout)
	defer timer.Stop()

	select {
	case box.ch <- msg:
	case <-timer.C:
		n.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[notify] mailbox full, event dropped",
			Fields:  map[string]any{"session": sessionID, "event": string(kind)},
		})
	case <-n.done:
	}
}

func (n *Notifier) drain(sessionID string, box *mailbox) {
	defer n.wg.Done()

	idle := time.NewTimer(n.idle)
	defer idle.Stop()

	for {
		select {
		case msg := <-box.ch:
			if err := n.out.SendToRoom(sessionID, msg); err != nil {
				n.log.Log(logger.LogEntry{
					Level:   "warn",
					Message: "[notify] delivery failed",
					Fields:  map[string]any{"session": sessionID},
					Error:   err,
				})
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(n.idle)

		case <-idle.C:
			n.mu.Lock()
			if box.pending == 0 && len(box.ch) == 0 {
				delete(n.boxes, sessionID)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			idle.Reset(n.idle)

		case <-n.done:
			return
		}
	}
}

// Close stops all mailboxes. Undelivered events are discarded.
func (n *Notifier) Close() {
	n.mu.Lock()
	select {
	case <-n.done:
	default:
		close(n.done)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
