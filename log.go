package main

import (
	"fmt"
	"path"

	"github.com/cenkalti/log"
)

const logTimeLayout = "2006-01-02 15:04:05.000"

// logFormatter prints records as "time level file:line message", in UTC.
type logFormatter struct{}

func (logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s %s:%d %s",
		rec.Time.UTC().Format(logTimeLayout),
		rec.Level,
		path.Base(rec.Filename),
		rec.Line,
		rec.Message)
}

func init() {
	log.DefaultHandler.SetFormatter(logFormatter{})
}
