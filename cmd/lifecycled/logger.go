package main

import (
	"context"

	"github.com/goliatone/go-logger/glog"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// glogAdapter bridges go-logger into the lifecycle Logger contract.
type glogAdapter struct {
	logger glog.Logger
}

func newGlogAdapter(level string) glogAdapter {
	return glogAdapter{logger: glog.NewLogger(glog.WithLevel(level))}
}

func (l glogAdapter) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogAdapter) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogAdapter) WithContext(ctx context.Context) lifecycle.Logger {
	if l.logger == nil {
		return lifecycle.NewFmtLogger(nil).WithContext(ctx)
	}
	return glogAdapter{logger: l.logger.WithContext(ctx)}
}

func (l glogAdapter) WithFields(fields map[string]any) lifecycle.Logger {
	if l.logger == nil {
		return lifecycle.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}
