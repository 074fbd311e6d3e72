// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package log implements the agent's logging facade on top of seelog.
package log

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *agentLogger

	// This buffer holds log lines sent to the logger before its
	// initialization. Even if initializing the logger is one of the first
	// things the agent does, we still load the config and resolve the proxy
	// settings first.
	//
	// This buffer should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
)

// agentLogger wraps seelog behind a package-level API.
type agentLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger configures the logger singleton with a seelog interface.
func SetupLogger(l seelog.LoggerInterface, level string) {
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger = &agentLogger{
		inner: l,
		level: lvl,
	}

	// The exported functions add one frame between the caller and seelog.
	logger.inner.SetAdditionalStackDepth(2) //nolint:errcheck

	// Flushing logs since the logger is now initialized
	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	defer bufferMutex.Unlock()
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (l *agentLogger) shouldLog(level seelog.LogLevel) bool {
	return level >= l.level
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Trace(v...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.TraceLvl) {
		logger.inner.Trace(v...)
	}
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Tracef(format, params...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.TraceLvl) {
		logger.inner.Tracef(format, params...)
	}
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Debug(v...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.DebugLvl) {
		logger.inner.Debug(v...)
	}
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Debugf(format, params...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.DebugLvl) {
		logger.inner.Debugf(format, params...)
	}
}

// Info logs at the info level
func Info(v ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Info(v...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.InfoLvl) {
		logger.inner.Info(v...)
	}
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	if logger == nil {
		addLogToBuffer(func() { Infof(format, params...) })
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.InfoLvl) {
		logger.inner.Infof(format, params...)
	}
}

// Warn logs at the warn level and returns an error containing the formated log message
func Warn(v ...interface{}) error {
	err := errors.New(fmt.Sprint(v...))
	if logger == nil {
		addLogToBuffer(func() { Warn(v...) }) //nolint:errcheck
		return err
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.WarnLvl) {
		logger.inner.Warn(err.Error()) //nolint:errcheck
	}
	return err
}

// Warnf logs with format at the warn level and returns an error containing the formated log message
func Warnf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	if logger == nil {
		addLogToBuffer(func() { Warnf(format, params...) }) //nolint:errcheck
		return err
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.WarnLvl) {
		logger.inner.Warn(err.Error()) //nolint:errcheck
	}
	return err
}

// Error logs at the error level and returns an error containing the formated log message
func Error(v ...interface{}) error {
	err := errors.New(fmt.Sprint(v...))
	if logger == nil {
		addLogToBuffer(func() { Error(v...) }) //nolint:errcheck
		return err
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.ErrorLvl) {
		logger.inner.Error(err.Error()) //nolint:errcheck
	}
	return err
}

// Errorf logs with format at the error level and returns an error containing the formated log message
func Errorf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	if logger == nil {
		addLogToBuffer(func() { Errorf(format, params...) }) //nolint:errcheck
		return err
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	if logger.shouldLog(seelog.ErrorLvl) {
		logger.inner.Error(err.Error()) //nolint:errcheck
	}
	return err
}

// Flush flushes the underlying inner log
func Flush() {
	if logger == nil {
		return
	}
	logger.l.RLock()
	defer logger.l.RUnlock()
	logger.inner.Flush()
}
