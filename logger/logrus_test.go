package logger

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogrusLoggerWithConfig(t *testing.T) {
	config := Configuration{
		EnableConsole:     true,
		ConsoleLevel:      Debug,
		ConsoleJSONFormat: false,
		EnableFile:        true,
		FileLevel:         Info,
		FileJSONFormat:    true,
		Filename:          filepath.Join(t.TempDir(), "changefeed.log"),
	}

	log := NewLogrusLoggerWithConfig(config)

	contextLogger := log.WithFields(Fields{"collection": "readings"})
	contextLogger.Debugf("Starting with logrus")
	contextLogger.Infof("Read %d changes", 100)
}

func TestLogrusLoggerWithFieldsAtInit(t *testing.T) {
	// adapts to Logger interface from *logrus.Entry
	fieldLogger := logrus.StandardLogger().WithField("reader", "reader-1")
	log := NewLogrusLogger(fieldLogger)

	contextLogger := log.WithFields(Fields{"partition": "shardId-000000000000"})
	contextLogger.Infof("Structured logging is awesome")
}

func TestNormalizeConfig(t *testing.T) {
	config := Configuration{MaxBackups: -3}
	NormalizeConfig(&config)

	assert.Equal(t, 100, config.MaxSizeMB)
	assert.Equal(t, 7, config.MaxAgeDays)
	assert.Equal(t, 0, config.MaxBackups)
}
