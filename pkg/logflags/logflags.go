package logflags

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var wire = false
var stopResume = false
var trapAndRspCon = false
var ctrlCWait = false
var tranDetail = false

var logOut io.Writer
var textFormatterInstance = &logrus.TextFormatter{FullTimestamp: true}

// makeLogger builds a Logger at the given level, going through
// loggerFactory when one has been installed via SetLoggerFactory.
func makeLogger(level logrus.Level, fields Fields) Logger {
	if loggerFactory != nil {
		out := logOut
		return loggerFactory(level, fields, out)
	}
	out := logOut
	if out == nil {
		out = os.Stderr
	}
	logger := logrus.New()
	logger.Out = out
	logger.Level = level
	logger.Formatter = textFormatterInstance
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

// makeFlaggableLogger is makeLogger gated by a boolean category flag:
// DebugLevel when enabled, ErrorLevel (effectively silent for our
// warn-and-continue call sites) when disabled.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	level := logrus.ErrorLevel
	if flag {
		level = logrus.DebugLevel
	}
	return makeLogger(level, fields)
}

// Wire returns true if raw RSP packet bytes should be logged.
func Wire() bool {
	return wire
}

// WireLogger returns a configured logger for the raw packet transport.
func WireLogger() Logger {
	return makeFlaggableLogger(wire, Fields{"layer": "rsp", "kind": "wire"})
}

// StopResume returns true if halt/resume transitions should be logged.
func StopResume() bool {
	return stopResume
}

// StopResumeLogger returns a logger for the halt/run controller.
func StopResumeLogger() Logger {
	return makeFlaggableLogger(stopResume, Fields{"layer": "control", "kind": "stop-resume"})
}

// TrapAndRspCon returns true if semihosting traps and RSP connection
// lifecycle events should be logged.
func TrapAndRspCon() bool {
	return trapAndRspCon
}

// TrapAndRspConLogger returns a logger for the semihosting bridge and
// session connect/disconnect events.
func TrapAndRspConLogger() Logger {
	return makeFlaggableLogger(trapAndRspCon, Fields{"layer": "rsp", "kind": "trap-and-con"})
}

// CtrlCWait returns true if the Ctrl-C break-detection poll loop should
// log each iteration it spends waiting on the target.
func CtrlCWait() bool {
	return ctrlCWait
}

// CtrlCWaitLogger returns a logger for the break-poll loop.
func CtrlCWaitLogger() Logger {
	return makeFlaggableLogger(ctrlCWait, Fields{"layer": "control", "kind": "ctrlc-wait"})
}

// TranDetail returns true if individual memory-mapped register
// transactions should be logged.
func TranDetail() bool {
	return tranDetail
}

// TranDetailLogger returns a logger for target-gateway transactions.
func TranDetailLogger() Logger {
	return makeFlaggableLogger(tranDetail, Fields{"layer": "target", "kind": "tran-detail"})
}

var errLogstrWithoutLog = errors.New("--log-flags specified without --log")

// Setup sets debugger verbosity flags based on the contents of logstr, a
// comma-separated subset of wire,stop-resume,trap-rsp,ctrlc,tran-detail.
func Setup(logFlag bool, logstr string) error {
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "stop-resume,trap-rsp"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "wire":
			wire = true
		case "stop-resume":
			stopResume = true
		case "trap-rsp":
			trapAndRspCon = true
		case "ctrlc":
			ctrlCWait = true
		case "tran-detail":
			tranDetail = true
		}
	}
	return nil
}
