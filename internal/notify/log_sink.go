package notify

import (
	"context"
	"log"
	"os"
)

// LogSink writes a one-line summary of selected events to a logger.
// state_changed is skipped; it fires on every buy.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink. A nil logger writes to stdout.
func NewLogSink(l *log.Logger) *LogSink {
	if l == nil {
		l = log.New(os.Stdout, "[events] ", log.LstdFlags)
	}
	return &LogSink{logger: l}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, ev Event) error {
	switch data := ev.Data.(type) {
	case BuyObserved:
		s.logger.Printf("%s wallet=%s sig=%s", ev.Type, data.Wallet, data.Signature)
	default:
		if ev.Type != KindStateChanged {
			s.logger.Printf("%s", ev.Type)
		}
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
