package configuration

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	lock     sync.RWMutex
	humanLog *zap.SugaredLogger
}

var cfg config

// EnvConfigFile environment variable consulted for config file location
const EnvConfigFile = "VLBOLT_CONFIG"

func init() {
	// initialize startup logger
	logCfg := zap.NewProductionConfig()

	logCfg.DisableStacktrace = true
	logCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logCfg.EncoderConfig.CallerKey = ""
	logCfg.Encoding = "console"
	logCfg.EncoderConfig.EncodeTime = func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(t.Format(time.RFC3339))
	}

	log, err := logCfg.Build()
	if err != nil {
		log = zap.NewNop()
	}

	cfg.humanLog = log.Sugar()
}

// ConfigFile config file provided by environment, if any
func ConfigFile() string {
	file, _ := os.LookupEnv(EnvConfigFile)
	return file
}

// GetLogger return process logger
func GetLogger() *zap.SugaredLogger {
	cfg.lock.RLock()
	defer cfg.lock.RUnlock()

	return cfg.humanLog
}

// SetLogger replace process logger. Mostly for tests
func SetLogger(l *zap.SugaredLogger) {
	cfg.lock.Lock()
	cfg.humanLog = l
	cfg.lock.Unlock()
}

var configTimeFormatMap = map[string]string{
	"ANSIC":       time.ANSIC,
	"UNIX":        time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"StampMilli":  time.StampMilli,
}

// ConfigureLoggers rebuild process logger from config
// errors go to stderr, everything else to stdout
func ConfigureLoggers(c *LogConfig) error {
	logCfg := zap.NewDevelopmentEncoderConfig()

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Console.Level)); err != nil {
		return err
	}

	if c.Console.Timestamp != nil {
		if f, ok := configTimeFormatMap[c.Console.Timestamp.Format]; !ok {
			GetLogger().Warnf("unsupported time format %q supplied by config. using RFC3339", c.Console.Timestamp.Format)
			c.Console.Timestamp.Format = time.RFC3339
		} else {
			c.Console.Timestamp.Format = f
		}

		format := c.Console.Timestamp.Format
		logCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format(format))
		}
	} else {
		logCfg.EncodeTime = nil
	}

	logCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logCfg.StacktraceKey = ""
	consoleEncoder := zapcore.NewConsoleEncoder(logCfg)

	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= level
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= level
	})

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority))

	SetLogger(zap.New(core).Sugar())

	return nil
}
