package instance

import (
	"os"

	"github.com/angelmondragon/retail-backoffice/pkg/env"
)

// GetID identifies the running process for lock ownership and logs.
// WORKER_ID wins, then the hostname, then a fixed default.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
