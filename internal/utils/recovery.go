package utils

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover logs a panic with its stack instead of crashing the process. It
// must be deferred directly: defer utils.Recover(log, "scope").
func Recover(log *zap.Logger, scope string) {
	if r := recover(); r != nil {
		log.Error("🚑 [RECOVERY] panic",
			zap.String("scope", scope),
			zap.String("panic", fmt.Sprint(r)),
			zap.ByteString("stack", debug.Stack()))
	}
}

// RecoverWithHandler is Recover plus a callback receiving the panic value.
func RecoverWithHandler(log *zap.Logger, scope string, handler func(any)) {
	if r := recover(); r != nil {
		log.Error("🚑 [RECOVERY] panic",
			zap.String("scope", scope),
			zap.String("panic", fmt.Sprint(r)),
			zap.ByteString("stack", debug.Stack()))
		handler(r)
	}
}

// SafeGo runs fn on its own goroutine behind Recover.
func SafeGo(log *zap.Logger, scope string, fn func()) {
	go func() {
		defer Recover(log, scope)
		fn()
	}()
}
