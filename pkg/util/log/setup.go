// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package log

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// Options control where log lines go and which ones reach the console.
type Options struct {
	Level   string
	LogFile string
	// Quiet raises the console threshold to errors only; the log file still
	// receives everything at or above Level.
	Quiet bool
	// Silent drops console output entirely.
	Silent bool
}

// Setup builds a seelog logger from the options and installs it as the
// package logger.
func Setup(opts Options) error {
	level := strings.ToLower(opts.Level)
	if _, ok := seelog.LogLevelFromString(level); !ok {
		level = "info"
	}

	configTemplate := `<seelog minlevel="%s">
    <outputs formatid="common">`
	switch {
	case opts.Silent:
		// no console output
	case opts.Quiet:
		configTemplate += `<filter levels="error,critical"><console /></filter>`
	default:
		configTemplate += `<console />`
	}
	if opts.LogFile != "" {
		configTemplate += `<rollingfile type="size" filename="` + opts.LogFile + `" maxsize="%d" maxrolls="3" />`
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`

	var config string
	if opts.LogFile != "" {
		config = fmt.Sprintf(configTemplate, level, logFileMaxSize, logDateFormat)
	} else {
		config = fmt.Sprintf(configTemplate, level, logDateFormat)
	}

	inner, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		return err
	}
	SetupLogger(inner, level)
	return nil
}
