package observability

import (
	"errors"
	"fmt"
	"sort"
)

// AggregateErrors joins per-exchange failures of a fan-out operation, logs a single summary entry,
// and returns the aggregated error. It returns nil when every entry is nil.
func AggregateErrors(operation string, byExchange map[string]error) error {
	names := make([]string, 0, len(byExchange))
	for name, err := range byExchange {
		if err != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	failed := make([]error, 0, len(names))
	messages := make(map[string]string, len(names))
	for _, name := range names {
		err := byExchange[name]
		failed = append(failed, fmt.Errorf("%s: %w", name, err))
		messages[name] = err.Error()
	}
	Log().Error("operation errors",
		F("operation", operation),
		F("error_count", len(failed)),
		F("errors", messages),
	)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(failed...))
}
