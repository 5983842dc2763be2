package main

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

const envPrefix = "WALLETSYNC_"

type Config struct {
	// Print debug level log messages to console.
	EnableDebugLog bool
	// Last known balances are cached in this database so a reopened session
	// has something to show before the first refresh. Leave empty to disable.
	DatabasePath string
	// Listen address for HTTP server.
	ListenAddress string
	// Optional TLS certificate and key if you want to serve over HTTPS.
	CertFile, KeyFile string
	// Maximum number of simultaneous connections. Zero means unlimited.
	MaxConnections int
	// Origins allowed to call the API from a browser.
	AllowedOrigins []string
	// Base URL of the ledger service.
	LedgerURL string
	// Timeout for requests made to the ledger.
	LedgerTimeout time.Duration
	// How often balance and history are fetched while a session is open.
	BalanceRefreshInterval time.Duration
	HistoryRefreshInterval time.Duration
	// Toasts disappear after this duration.
	ToastDuration time.Duration
	// Receipts larger than this are rejected before upload.
	MaxReceiptSize int64
	// Media type prefixes accepted for receipts.
	AcceptedReceiptTypes []string
	// Smallest deposit amount accepted. Zero disables the check.
	MinimumDeposit decimal.Decimal
	// Limit deposit submissions per client.
	DepositRateLimit string
	// Secret for verifying session tokens (HS256).
	AuthSecret string
	// Password for accessing admin endpoints.
	// Admin endpoints are protected with HTTP basic auth. Username is always "admin".
	// If no password is set, admin endpoints are disabled.
	AdminPassword string
	// Consecutive ledger failures before requests stop for BreakerDelay. Zero disables.
	BreakerFailureThreshold uint
	BreakerDelay            time.Duration
	// On shutdown of the server, give some time to unfinished HTTP requests before shutting down the server.
	ShutdownTimeout time.Duration
}

var DefaultConfig = Config{
	ListenAddress:           "127.0.0.1:8080",
	AllowedOrigins:          []string{"*"},
	LedgerTimeout:           15 * time.Second,
	BalanceRefreshInterval:  45 * time.Second,
	HistoryRefreshInterval:  45 * time.Second,
	ToastDuration:           4 * time.Second,
	MaxReceiptSize:          5 << 20,
	AcceptedReceiptTypes:    []string{"image/"},
	DepositRateLimit:        "30-H",
	BreakerFailureThreshold: 5,
	BreakerDelay:            30 * time.Second,
	ShutdownTimeout:         5 * time.Second,
}

func (c *Config) Read() (err error) {
	*c = DefaultConfig
	c.AllowedOrigins = append([]string(nil), DefaultConfig.AllowedOrigins...)
	c.AcceptedReceiptTypes = append([]string(nil), DefaultConfig.AcceptedReceiptTypes...)
	k := koanf.New(".")
	var parser koanf.Parser
	ext := filepath.Ext(*configPath)
	if ext == ".yaml" || ext == ".yml" {
		parser = yaml.Parser()
	} else {
		parser = toml.Parser()
	}
	err = k.Load(file.Provider(*configPath), parser)
	if err != nil {
		return
	}
	err = k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.TrimPrefix(s, envPrefix), "_", ".", -1)
	}), nil)
	if err != nil {
		return
	}
	conf := koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				StringToDecimalHookFunc(),
				Float64ToDecimalHookFunc(),
			),
			WeaklyTypedInput: true,
			ZeroFields:       true,
			Result:           c,
		},
	}
	err = k.UnmarshalWithConf("", c, conf)
	if err != nil {
		return
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.LedgerURL == "" {
		return errors.New("LedgerURL must be set")
	}
	if c.AuthSecret == "" {
		return errors.New("AuthSecret must be set")
	}
	if c.BalanceRefreshInterval <= 0 || c.HistoryRefreshInterval <= 0 {
		return errors.New("refresh intervals must be positive")
	}
	if c.MinimumDeposit.IsNegative() {
		return errors.New("MinimumDeposit cannot be negative")
	}
	return nil
}

func StringToDecimalHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		return decimal.NewFromString(data.(string))
	}
}

func Float64ToDecimalHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.Float64 {
			return data, nil
		}
		if t != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		return decimal.NewFromFloat(data.(float64)), nil
	}
}
