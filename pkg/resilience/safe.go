package resilience

import (
	"fmt"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

// SafeExecute runs fn and returns fallback instead of an error or panic.
// It is meant for non-critical work whose failure must not reach the caller.
func SafeExecute[T any](fn func() (T, error), fallback T, logErrors bool) (result T) {
	defer func() {
		if r := recover(); r != nil {
			if logErrors {
				logging.GetLogger().Error("Safe execution panicked",
					"panic", fmt.Sprint(r),
				)
			}
			result = fallback
		}
	}()

	value, err := fn()
	if err != nil {
		if logErrors {
			logging.GetLogger().Error("Safe execution failed",
				"error", err.Error(),
			)
		}
		return fallback
	}
	return value
}

// SafeExecuteRecorded behaves like SafeExecute with logging enabled and also
// records the failure into agg under the given component.
func SafeExecuteRecorded[T any](agg *ErrorAggregator, component string, fn func() (T, error), fallback T) (result T) {
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Error("Safe execution panicked",
				"component", component,
				"panic", fmt.Sprint(r),
			)
			if agg != nil {
				agg.Record("panic", fmt.Sprint(r), map[string]string{"component": component})
			}
			result = fallback
		}
	}()

	value, err := fn()
	if err != nil {
		logging.GetLogger().Error("Safe execution failed",
			"component", component,
			"error", err.Error(),
		)
		if agg != nil {
			agg.RecordError(err, map[string]string{"component": component})
		}
		return fallback
	}
	return value
}
