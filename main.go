package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/log"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/session"
	"github.com/wallute/walletsync/internal/store"
)

// These variables are set by goreleaser on build.
var (
	version = "0.0.0"
	commit  = ""
	date    = ""
)

var (
	generateSecret = flag.Bool("secret", false, "generate a secret for signing session tokens and exit")
	tokenAccount   = flag.String("token", "", "print a session token for the given account id and exit")
	configPath     = flag.String("config", "config.toml", "config file path")
	versionFlag    = flag.Bool("version", false, "display version and exit")
	config         Config
	server         http.Server
	rateLimiter    *limiter.Limiter
	sessions       *session.Manager
)

func versionString() string {
	const shaLen = 7
	if len(commit) > shaLen {
		commit = commit[:shaLen]
	}
	return fmt.Sprintf("%s (%s) [%s]", version, commit, date)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(versionString())
		return
	}

	if *generateSecret {
		secret, err := NewSecret()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(secret)
		return
	}

	err := config.Read()
	if err != nil {
		log.Fatal(err)
	}

	if config.EnableDebugLog {
		log.SetLevel(log.DEBUG)
	}

	if *tokenAccount != "" {
		token, err2 := NewToken(session.Identity{AccountID: *tokenAccount}, 24*time.Hour)
		if err2 != nil {
			log.Fatal(err2)
		}
		fmt.Println(token)
		return
	}

	rate, err := limiter.NewRateFromFormatted(config.DepositRateLimit)
	if err != nil {
		log.Fatal(err)
	}
	rateLimiter = limiter.New(memory.NewStore(), rate, limiter.WithTrustForwardHeader(true))

	client := ledger.New(config.LedgerURL, config.LedgerTimeout, ledger.WithCircuitBreaker(config.BreakerFailureThreshold, config.BreakerDelay))

	var snapshots session.SnapshotStore
	var db *store.Store
	if config.DatabasePath != "" {
		log.Debugln("opening db:", config.DatabasePath)
		db, err = store.Open(config.DatabasePath)
		if err != nil {
			log.Fatal(err)
		}
		log.Debugln("db has been opened successfully")
		snapshots = db
	}

	sessions = session.NewManager(client, snapshots, sessionConfig(config))

	go runServer()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownTimeout := config.ShutdownTimeout
	log.Noticeln("shutting down with timeout:", shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		log.Errorln("shutdown error:", err)
	}

	sessions.CloseAll()

	if db != nil {
		err = db.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
}

func sessionConfig(c Config) session.Config {
	return session.Config{
		BalanceInterval: c.BalanceRefreshInterval,
		HistoryInterval: c.HistoryRefreshInterval,
		RequestTimeout:  c.LedgerTimeout,
		ToastDuration:   c.ToastDuration,
		Limits: deposit.Limits{
			MaxReceiptSize: c.MaxReceiptSize,
			AcceptedTypes:  c.AcceptedReceiptTypes,
			MinimumAmount:  c.MinimumDeposit,
		},
	}
}
