package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

type recordedLog struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	logs   *[]recordedLog
	fields watermill.LogFields
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logs := make([]recordedLog, 0)
	return &recordingWatermillLogger{logs: &logs}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	merged := make(watermill.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.logs = append(*r.logs, recordedLog{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingWatermillLogger{logs: r.logs, fields: merged}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "gateway"})
	logger.Info("info", nil)

	child := logger.With(LogFields{"service": "employee"})
	boom := errors.New("boom")
	child.Error("failed", boom, LogFields{"attempt": 2})
	child.Trace("trace", nil)

	logs := *base.logs
	if len(logs) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(logs))
	}
	if logs[0].level != "debug" || logs[0].fields["component"] != "gateway" {
		t.Fatalf("unexpected first log: %#v", logs[0])
	}
	if logs[1].level != "info" || logs[1].msg != "info" {
		t.Fatalf("unexpected second log: %#v", logs[1])
	}
	if logs[2].level != "error" || logs[2].err != boom {
		t.Fatalf("expected error with boom, got %#v", logs[2])
	}
	if logs[2].fields["service"] != "employee" || logs[2].fields["attempt"] != 2 {
		t.Fatalf("expected merged fields, got %#v", logs[2].fields)
	}
	if logs[3].level != "trace" {
		t.Fatalf("expected trace level on final log, got %s", logs[3].level)
	}
}

func TestNewSlogServiceLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when slog logger nil")
		}
	}()
	NewSlogServiceLogger(nil)
}

func TestNewSlogServiceLogger(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	// Should not panic on any level.
	logger.Debug("dbg", nil)
	logger.With(LogFields{"k": "v"}).Info("info", LogFields{"k2": "v2"})
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	base := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	adapter.Info("hello", watermill.LogFields{"topic": "hr.requests"})
	child := adapter.With(watermill.LogFields{"handler": "reply"})
	child.Debug("consumed", nil)

	logs := *base.logs
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].fields["topic"] != "hr.requests" {
		t.Fatalf("missing topic field: %#v", logs[0].fields)
	}
	if logs[1].fields["handler"] != "reply" {
		t.Fatalf("missing handler field: %#v", logs[1].fields)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := Nop()
	logger.Info("discarded", nil)
	logger.Error("discarded", errors.New("ignored"), nil)
}
