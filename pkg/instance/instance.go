// Package instance names the running process in logs and lock ownership.
package instance

import (
	"os"

	"github.com/angelmondragon/packfinderz-stock/pkg/env"
)

// ID returns the first non-empty of PACKFINDERZ_INSTANCE_ID, DYNO and the
// hostname, prefixed with the service name when the fallback is used.
func ID(service string) string {
	if id := env.First("PACKFINDERZ_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	if service == "" {
		return host
	}
	return service + "@" + host
}
