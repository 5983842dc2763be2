package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cenkalti/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"golang.org/x/net/netutil"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/session"
)

// Room for the form fields around the receipt in a deposit upload.
const multipartOverhead = 1 << 20

func runServer() {
	server.Addr = config.ListenAddress
	server.Handler = newHandler()

	listener, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		log.Fatal(err)
	}
	if config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, config.MaxConnections)
	}
	log.Noticeln("listening on:", listener.Addr().String())
	if config.CertFile != "" && config.KeyFile != "" {
		err = server.ServeTLS(listener, config.CertFile, config.KeyFile)
	} else {
		err = server.Serve(listener)
	}
	if err == http.ErrServerClosed {
		return
	}
	log.Fatal(err)
}

func newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", handleSession)
	mux.HandleFunc("/api/wallet", withSession(http.MethodGet, handleWallet))
	mux.HandleFunc("/api/wallet/refresh", withSession(http.MethodPost, handleRefresh))
	mux.Handle("/api/deposit", depositLimit(withSession(http.MethodPost, handleDeposit)))
	mux.HandleFunc("/api/notifications/dismiss", withSession(http.MethodPost, handleDismissNotification))
	mux.HandleFunc("/api/notifications/clear", withSession(http.MethodPost, handleClearNotifications))
	mux.HandleFunc("/api/notifications/panel", withSession(http.MethodPost, handlePanel))
	mux.HandleFunc("/api/toast/dismiss", withSession(http.MethodPost, handleDismissToast))
	mux.HandleFunc("/api/events", handleEvents)
	mux.Handle("/metrics", promhttp.Handler())
	if config.AdminPassword != "" {
		mux.HandleFunc("/admin/sessions", handleAdminSessions)
		mux.HandleFunc("/admin/refresh", handleAdminRefresh)
		mux.HandleFunc("/admin/forget", handleAdminForget)
	}
	c := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}

func depositLimit(h http.Handler) http.Handler {
	if rateLimiter == nil {
		return h
	}
	return stdlib.NewMiddleware(rateLimiter).Handler(h)
}

// bearerToken reads the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func authenticate(w http.ResponseWriter, token string) (*IdentityClaims, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return nil, false
	}
	claims, err := ParseToken(token)
	if err != nil {
		log.Debugln("rejected token:", err.Error())
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession authenticates the request and resolves the caller's open session.
func withSession(method string, h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, method+" only", http.StatusMethodNotAllowed)
			return
		}
		claims, ok := authenticate(w, bearerToken(r))
		if !ok {
			return
		}
		s, err := sessions.Get(claims.Subject)
		if err == session.ErrNotFound {
			writeError(w, http.StatusNotFound, "no open session")
			return
		}
		if err != nil {
			log.Error(err)
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
		h(w, r, s)
	}
}

func handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authenticate(w, bearerToken(r))
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		s, err := sessions.Open(claims.Identity())
		if err != nil {
			log.Error(err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, NewWalletResponse(s))
	case http.MethodDelete:
		err := sessions.Close(claims.Subject)
		if err == session.ErrNotFound {
			writeError(w, http.StatusNotFound, "no open session")
			return
		}
		if err != nil {
			log.Error(err)
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "POST or DELETE only", http.StatusMethodNotAllowed)
	}
}

func handleWallet(w http.ResponseWriter, r *http.Request, s *session.Session) {
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

func handleRefresh(w http.ResponseWriter, r *http.Request, s *session.Session) {
	s.Balance.RefreshNow()
	s.Notifications.RefreshNow()
	w.WriteHeader(http.StatusAccepted)
}

// handleDeposit stores the submitted fields in the session's form and submits it.
// Fields left out keep their previous values, so a retry after a ledger
// failure does not need to upload the receipt again.
func handleDeposit(w http.ResponseWriter, r *http.Request, s *session.Session) {
	limit := config.MaxReceiptSize
	if limit <= 0 {
		limit = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	err := r.ParseMultipartForm(multipartOverhead)
	if err != nil && err != http.ErrNotMultipart {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "receipt is too large")
			return
		}
		log.Debugln("cannot parse deposit form:", err.Error())
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if values, ok := r.PostForm["amount"]; ok && len(values) > 0 {
		if err = s.Deposits.SetAmount(values[0]); err != nil {
			writeDepositError(w, err)
			return
		}
	}
	receipt, err := readReceipt(r)
	if err != nil {
		log.Debugln("cannot read receipt:", err.Error())
		writeError(w, http.StatusBadRequest, "invalid receipt")
		return
	}
	if receipt != nil {
		if err = s.Deposits.SetReceipt(receipt); err != nil {
			writeDepositError(w, err)
			return
		}
	}
	// The submission outlives the request if the client goes away.
	err = s.Deposits.Submit(context.Background())
	if err != nil {
		writeDepositError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

func readReceipt(r *http.Request) (*ledger.Receipt, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, header, err := r.FormFile("receipt")
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &ledger.Receipt{Filename: header.Filename, Data: data}, nil
}

func writeDepositError(w http.ResponseWriter, err error) {
	var verr *deposit.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case err == deposit.ErrDuplicateSubmission, err == deposit.ErrFormLocked:
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		writeError(w, http.StatusBadGateway, "deposit could not be submitted, please try again")
	default:
		log.Error(err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func handleDismissNotification(w http.ResponseWriter, r *http.Request, s *session.Session) {
	id := r.FormValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	s.Notifications.Dismiss(id)
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

func handleClearNotifications(w http.ResponseWriter, r *http.Request, s *session.Session) {
	s.Notifications.ClearAll()
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

func handlePanel(w http.ResponseWriter, r *http.Request, s *session.Session) {
	open, err := strconv.ParseBool(r.FormValue("open"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid open value")
		return
	}
	s.Notifications.SetPanelOpen(open)
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

func handleDismissToast(w http.ResponseWriter, r *http.Request, s *session.Session) {
	s.Toasts.Dismiss()
	writeJSON(w, http.StatusOK, NewWalletResponse(s))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(b)
	if err != nil {
		log.Debug(err)
	}
}
