package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogSink writes notifications to the service log.
type LogSink struct {
	logger *zap.Logger
	fields []zap.Field
}

func NewLogSink(logger *zap.Logger, fields ...zap.Field) *LogSink {
	return &LogSink{logger: logger, fields: fields}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, notification Notification) error {
	s.logger.Info("Notification", append([]zap.Field{
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
	}, s.fields...)...)
	return nil
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Send(ctx context.Context, notification Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Send(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FuncSink adapts a function to Sink.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, notification Notification) error
}

func (f FuncSink) Name() string { return f.SinkName }

func (f FuncSink) Send(ctx context.Context, notification Notification) error {
	return f.Fn(ctx, notification)
}
