package rbperf

import (
	"log"
	"os"
	"sync"
)

// logger returns the package-level diagnostic logger, standing in for a
// bpf_printk-style trace call gated by the verbose load-time flag (see
// Config.Verbose and Walker.logf). Kept as plain log.Logger rather than a
// richer structured logger.
var (
	loggerOnce sync.Once
	pkgLogger  *log.Logger
)

func logger() *log.Logger {
	loggerOnce.Do(func() {
		pkgLogger = log.New(os.Stderr, "rbperf: ", log.LstdFlags)
	})
	return pkgLogger
}
