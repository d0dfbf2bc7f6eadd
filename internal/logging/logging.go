// Package logging wires the process-wide structured logger, following the
// same logrus setup the teacher's demo backend uses.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// New builds a JSON-formatted logrus.Logger from config.
func New(config *viper.Viper) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.GetString("log.level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	return logger
}
