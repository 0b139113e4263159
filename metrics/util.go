package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce registers collector with the default registry. Collectors
// are process-wide, so constructing the same metrics twice (e.g. once per
// test) returns the collector registered first. Panics on any other
// registration error.
func registerOnce[C prometheus.Collector](collector C) C {
	err := prometheus.Register(collector)
	if err == nil {
		return collector
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
