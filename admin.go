package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/log"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/session"
)

const adminName = "admin"

type adminSession struct {
	Account    string           `json:"account"`
	SessionID  string           `json:"sessionId"`
	OpenedAt   time.Time        `json:"openedAt"`
	Balance    *BalanceResponse `json:"balance"`
	LastSynced *time.Time       `json:"lastSynced,omitempty"`
	Unread     int              `json:"unread"`
	Deposit    deposit.State    `json:"deposit"`
	Streams    int              `json:"streams"`
}

func newAdminSession(s *session.Session) adminSession {
	a := adminSession{
		Account:   s.AccountID(),
		SessionID: s.ID,
		OpenedAt:  s.OpenedAt,
		Unread:    len(s.Notifications.Visible()),
		Deposit:   s.Deposits.State(),
		Streams:   sessions.Hub().Subscribers(s.AccountID()),
	}
	if b, ok := s.Balance.Snapshot(); ok {
		a.Balance = NewBalanceResponse(b)
	}
	if t := s.Balance.LastSynced(); !t.IsZero() {
		a.LastSynced = &t
	}
	return a
}

func checkAdmin(w http.ResponseWriter, r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return false
	}
	if username != adminName {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}
	if password != config.AdminPassword {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}
	return true
}

func handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if !checkAdmin(w, r) {
		return
	}
	list := sessions.List()
	out := make([]adminSession, 0, len(list))
	for _, s := range list {
		out = append(out, newAdminSession(s))
	}
	writeAdminJSON(w, out)
}

// handleAdminRefresh fetches balance and history of an open session immediately.
func handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !checkAdmin(w, r) {
		return
	}
	account := r.FormValue("account")
	if account == "" {
		http.Error(w, "invalid account", http.StatusBadRequest)
		return
	}
	s, err := sessions.Get(account)
	if err == session.ErrNotFound {
		log.Debugln("session not found:", account)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.Balance.RefreshNow()
	s.Notifications.RefreshNow()
	writeAdminJSON(w, newAdminSession(s))
}

// handleAdminForget closes the session of an account and drops its cached balance.
func handleAdminForget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if !checkAdmin(w, r) {
		return
	}
	account := r.FormValue("account")
	if account == "" {
		http.Error(w, "invalid account", http.StatusBadRequest)
		return
	}
	err := sessions.Forget(account)
	if err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAdminJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	if err != nil {
		log.Debug(err)
	}
}
