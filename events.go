package main

import (
	"net/http"
	"time"

	"github.com/cenkalti/log"
	"github.com/gorilla/websocket"

	"github.com/wallute/walletsync/internal/hub"
	"github.com/wallute/walletsync/internal/session"
	"github.com/wallute/walletsync/internal/subscriber"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventKeepAlive    = 30 * time.Second
	eventQueueSize    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleEvents streams the caller's session events over a websocket.
// Browsers cannot set headers on websocket requests so the token comes in the query.
func handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	claims, ok := authenticate(w, token)
	if !ok {
		return
	}
	s, err := sessions.Get(claims.Subject)
	if err == session.ErrNotFound {
		writeError(w, http.StatusNotFound, "no open session")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugln("websocket upgrade failed:", err.Error())
		return
	}
	sub := subscriber.New(conn, eventWriteTimeout, eventKeepAlive, eventQueueSize)
	cancel := sessions.Hub().Subscribe(s.AccountID(), func(e hub.Event) {
		se := e.(session.Event)
		sub.Send(session.Event{Type: se.Type, Data: eventData(se)})
	})
	defer cancel()

	for _, e := range initialEvents(s) {
		sub.Send(e)
	}
	log.Debugln("event stream opened for account:", s.AccountID())
	sub.Run()
	log.Debugln("event stream closed for account:", s.AccountID())
}

// initialEvents describe the current state so a new stream does not wait for the next change.
func initialEvents(s *session.Session) []session.Event {
	events := make([]session.Event, 0, 4)
	if b, ok := s.Balance.Snapshot(); ok {
		events = append(events, session.Event{Type: session.TypeBalance, Data: NewBalanceResponse(b)})
	}
	events = append(events, session.Event{Type: session.TypeNotifications, Data: NewNotificationResponses(s.Notifications.Visible())})
	if t, ok := s.Toasts.Current(); ok {
		events = append(events, session.Event{Type: session.TypeToast, Data: &t})
	}
	events = append(events, session.Event{Type: session.TypeDeposit, Data: s.Deposits.State()})
	return events
}
