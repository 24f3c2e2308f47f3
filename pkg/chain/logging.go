package chain

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// packageLogger is the package-wide zerolog.Logger used by LoggingObserver
// and any internal diagnostics. It defaults to human-readable console
// output at info level; cmd/chainctl reconfigures it from CLI flags/viper
// config at startup via SetLogger/SetLevel.
var (
	loggerMu      sync.RWMutex
	packageLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logLevel      atomic.Int32 // zerolog.Level last applied by init or SetLevel
)

func init() {
	logLevel.Store(int32(zerolog.InfoLevel))
	packageLogger = packageLogger.Level(zerolog.InfoLevel)
}

// Log returns the package's current logger. Safe for concurrent use; the
// returned value is a cheap struct copy per zerolog's own design.
func Log() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := packageLogger
	return &l
}

// SetLogger replaces the package-wide logger wholesale, letting an
// embedding application route Chain Engine logs into its own sink
// (e.g. a JSON writer in production, a console writer in `chainctl`).
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	packageLogger = l
}

// SetLevel adjusts the minimum level the package logger emits.
func SetLevel(level zerolog.Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	packageLogger = packageLogger.Level(level)
	logLevel.Store(int32(level))
}
