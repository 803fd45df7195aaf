package helper

import (
	"fmt"
	"runtime/debug"

	"github.com/boostorg/boost-archives/pkg/logger"
)

// Guard runs fn and converts a panic into an error so that one failing
// item cannot abort the caller's loop.
func Guard(log *logger.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("PANIC recovered in %s: %v\nStack: %s", name, r, debug.Stack())
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}
