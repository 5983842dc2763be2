package subscriber

import (
	"sync"
	"time"

	"github.com/cenkalti/log"
	"github.com/gorilla/websocket"
)

const maxIncomingMessageSize = 512

// Subscriber streams JSON messages to one websocket client.
// Messages are queued and written by a single writer goroutine.
// A client that cannot keep up with the queue is disconnected.
type Subscriber struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	keepalive    time.Duration
	messages     chan interface{}
	closeC       chan struct{}
	closeOnce    sync.Once
}

func New(conn *websocket.Conn, writeTimeout, keepalive time.Duration, queueSize int) *Subscriber {
	return &Subscriber{
		conn:         conn,
		writeTimeout: writeTimeout,
		keepalive:    keepalive,
		messages:     make(chan interface{}, queueSize),
		closeC:       make(chan struct{}),
	}
}

// Send queues msg without blocking. It returns false if the subscriber is
// closed or its queue is full, in which case the connection is closed.
func (s *Subscriber) Send(msg interface{}) bool {
	select {
	case <-s.closeC:
		return false
	default:
	}
	select {
	case s.messages <- msg:
		return true
	default:
		log.Warningf("websocket client is too slow, disconnecting: %s", s.conn.RemoteAddr())
		s.Close()
		return false
	}
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closeC)
		s.conn.Close()
	})
}

// Run serves the connection until the client goes away or Close is called.
func (s *Subscriber) Run() {
	go s.reader()
	s.writer()
}

func (s *Subscriber) writer() {
	keepAlive := time.NewTicker(s.keepalive)
	defer keepAlive.Stop()
	defer s.Close()

	for {
		select {
		case msg := <-s.messages:
			err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err == nil {
				err = s.conn.WriteJSON(msg)
			}
			if err != nil {
				log.Debugln("websocket send error:", err.Error())
				return
			}
		case <-keepAlive.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
			if err != nil {
				log.Debugln("websocket ping error:", err.Error())
				return
			}
		case <-s.closeC:
			return
		}
	}
}

// reader consumes control frames. Clients are not expected to send anything.
func (s *Subscriber) reader() {
	defer s.Close()
	s.conn.SetReadLimit(maxIncomingMessageSize)
	extend := func() error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.keepalive))
	}
	if err := extend(); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error { return extend() })
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugln("websocket receive error:", err.Error())
			}
			return
		}
	}
}
