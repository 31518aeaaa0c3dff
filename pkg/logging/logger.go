package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func InitLogger(debug bool) {
	Log = New(os.Stdout, debug)
}

// New builds a logger writing to out: text with full timestamps in debug
// mode, JSON otherwise.
func New(out io.Writer, debug bool) *logrus.Logger {
	l := logrus.New()
	l.Out = out

	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Or returns l, falling back to the global Log and then to a fresh logger.
func Or(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	if Log != nil {
		return Log
	}
	return logrus.New()
}
