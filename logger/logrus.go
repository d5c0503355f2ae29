/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// logrusLogger wraps any logrus.FieldLogger, which covers both *logrus.Logger and *logrus.Entry.
type logrusLogger struct {
	fl logrus.FieldLogger
}

// NewLogrusLogger adapts an already configured logrus logger or entry.
func NewLogrusLogger(fl logrus.FieldLogger) Logger {
	return &logrusLogger{fl: fl}
}

// NewLogrusLoggerWithConfig builds a logrus logger writing to stdout and/or a rotated file.
func NewLogrusLoggerWithConfig(config Configuration) Logger {
	levelName := config.ConsoleLevel
	if levelName == "" {
		levelName = config.FileLevel
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}

	NormalizeConfig(&config)

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(logrusFormatter(config.ConsoleJSONFormat))
	l.SetOutput(os.Stdout)

	if config.EnableFile {
		file := &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: config.MaxBackups,
			LocalTime:  config.LocalTime,
			Compress:   true,
		}
		if config.EnableConsole {
			l.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			l.SetOutput(file)
			l.SetFormatter(logrusFormatter(config.FileJSONFormat))
		}
	}

	return &logrusLogger{fl: l}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.fl.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.fl.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.fl.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.fl.Errorf(format, args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.fl.Fatalf(format, args...) }
func (l *logrusLogger) Panicf(format string, args ...interface{}) { l.fl.Panicf(format, args...) }

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{fl: l.fl.WithFields(logrus.Fields(fields))}
}

func logrusFormatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	}
}
