// Package logging configures the process-wide logrus instance the whole
// gateway writes through: one line formatter, one sink (stdout or a
// rotating file), and gin's own debug/error output funneled into the same
// place so nothing logs around it.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirName     = "logs"
	logFileName    = "gateway.log"
	logFileMaxSize = 10 // megabytes per rotated file
)

var (
	setupOnce sync.Once
	sinkMu    sync.Mutex
	fileSink  *lumberjack.Logger
)

// lineFormatter renders every entry as
//
//	[2006-01-02 15:04:05] [info] [dispatch.go:42] message
//
// with the caller segment omitted when caller reporting is unavailable.
type lineFormatter struct{}

func (lineFormatter) Format(entry *log.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = &bytes.Buffer{}
	}

	buf.WriteByte('[')
	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.WriteString("] [")
	buf.WriteString(entry.Level.String())
	buf.WriteString("] ")
	if entry.Caller != nil {
		fmt.Fprintf(buf, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buf.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// Setup initialises the shared logger exactly once: caller reporting, the
// line formatter, stdout as the initial sink, and gin's writers redirected
// into logrus. Safe to call from multiple entrypoints.
func Setup() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(lineFormatter{})

		gin.DefaultWriter = log.StandardLogger().WriterLevel(log.InfoLevel)
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.Infof(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeFileSink)
	})
}

// SetFileLogging switches the sink to logs/gateway.log with size-based
// rotation, or back to stdout when enabled is false. The previous file
// sink, if any, is closed on either transition.
func SetFileLogging(enabled bool) error {
	Setup()

	sinkMu.Lock()
	defer sinkMu.Unlock()

	if !enabled {
		if fileSink != nil {
			_ = fileSink.Close()
			fileSink = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(logDirName, 0o755); err != nil {
		return fmt.Errorf("logging: create %s directory: %w", logDirName, err)
	}
	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename: filepath.Join(logDirName, logFileName),
		MaxSize:  logFileMaxSize,
	}
	log.SetOutput(fileSink)
	return nil
}

func closeFileSink() {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
}
