package log

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logger. Handlers receive it by injection;
// nothing in this repository logs through a package-level default.
func New(format, level string) (*logrus.Logger, error) {
	logger := logrus.New()

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	return logger, nil
}
