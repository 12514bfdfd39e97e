// Package logs duplicates process logging into a persistent file while
// leaving the terminal stream untouched.
package logs

import (
	"fmt"
	"os"
	"strings"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var _ = logrus.Hook(&writerHook{})

// writerHook mirrors matching log entries to the file logger.
type writerHook struct {
	logLevels []logrus.Level
}

// Fire formats the entry and appends it to the log file.
func (hook *writerHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	fileLogger.Println(strings.TrimSuffix(line, "\n"))
	return nil
}

// Levels defines on which log levels this hook triggers.
func (hook *writerHook) Levels() []logrus.Level {
	return hook.logLevels
}

var fileLogger = &logrus.Logger{
	Level: logrus.TraceLevel,
}

// ConfigurePersistentLogging appends every log entry to the named file in
// the requested format. Colors are always disabled, ANSI escapes read as
// gibberish in files.
func ConfigurePersistentLogging(logFileName, format string) error {
	logrus.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640) // #nosec G302
	if err != nil {
		return err
	}
	fileLogger.SetOutput(f)

	switch format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = true
		fileLogger.SetFormatter(formatter)
	case "fluentd":
		fileLogger.SetFormatter(joonix.NewFormatter())
	case "json":
		fileLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log file format %q", format)
	}

	logrus.Info("File logger initialized")
	logrus.AddHook(&writerHook{
		logLevels: logrus.AllLevels,
	})
	return nil
}
