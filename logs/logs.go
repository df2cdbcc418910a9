// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package logs configures the logrus formatters used by ikstorage. The
// standard formatter uses a structured JSON format that is compatible
// with Stackdriver Error Reporting.
//
// https://cloud.google.com/error-reporting/docs/formatting-error-messages
package logs

import (
	"bytes"
	"encoding/json"
	"io"

	log "github.com/sirupsen/logrus"
)

type stackdriverFormatter struct {
	ctx *serviceContext
}

type serviceContext struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type reportLocation struct {
	FilePath     string `json:"filePath"`
	LineNumber   int    `json:"lineNumber"`
	FunctionName string `json:"functionName"`
}

// isError determines whether an entry should be logged as an error
// (i.e. with attached `context`).
//
// This requires the caller information to be present on the log
// entry, as stacktraces are not available currently.
func isError(e *log.Entry) bool {
	l := e.Level
	return (l == log.ErrorLevel || l == log.FatalLevel || l == log.PanicLevel) &&
		e.HasCaller()
}

func (f stackdriverFormatter) Format(e *log.Entry) ([]byte, error) {
	msg := make(log.Fields, len(e.Data)+5)
	for k, v := range e.Data {
		// errors do not serialise to JSON on their own
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		msg[k] = v
	}

	msg["serviceContext"] = f.ctx
	msg["message"] = e.Message
	msg["eventTime"] = e.Time
	msg["severity"] = e.Level.String()

	if isError(e) {
		msg["context"] = &reportLocation{
			FilePath:     e.Caller.File,
			LineNumber:   e.Caller.Line,
			FunctionName: e.Caller.Function,
		}
	}

	b := new(bytes.Buffer)
	err := json.NewEncoder(b).Encode(&msg)

	return b.Bytes(), err
}

// InitWith installs the log formatter for the given version, writing
// to out. Format "text" selects a human-readable formatter, anything
// else the JSON one. An empty level means info.
func InitWith(version, level, format string, out io.Writer) {
	log.SetOutput(out)

	if format == "text" {
		log.SetReportCaller(false)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetReportCaller(true)
		log.SetFormatter(stackdriverFormatter{
			ctx: &serviceContext{Service: "ikstorage", Version: version},
		})
	}

	if level == "" {
		log.SetLevel(log.InfoLevel)
		return
	}

	l, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).WithField("level", level).Warn("unknown log level, using info")
		l = log.InfoLevel
	}
	log.SetLevel(l)
}
