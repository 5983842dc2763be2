package main

import (
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/log"
	"github.com/stretchr/testify/assert"
)

func TestLogFormat(t *testing.T) {
	rec := &log.Record{
		Time:     time.Date(2024, 3, 1, 12, 30, 45, 123e6, time.UTC),
		Level:    log.WARNING,
		Filename: "/src/walletsync/http.go",
		Line:     42,
		Message:  "hello",
	}
	out := logFormatter{}.Format(rec)
	assert.True(t, strings.HasPrefix(out, "2024-03-01 12:30:45.123 "), out)
	assert.True(t, strings.HasSuffix(out, " http.go:42 hello"), out)
	assert.Contains(t, out, rec.Level.String())
}
