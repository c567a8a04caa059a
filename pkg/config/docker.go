package config

import (
	"os"
	"strings"
	"sync"
)

// DockerHostAlias is the name Docker Desktop resolves to the host machine.
const DockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the application is running inside a Docker container.
// Detection is based on the presence of /.dockerenv. The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1":
		return true
	}
	return false
}

// ResolveLoopbackHost rewrites loopback hosts to an address reachable from a container.
// An explicit alias always applies. Without one, the Docker host alias is used only when
// running in Docker. Non-loopback hosts are returned unchanged.
func ResolveLoopbackHost(host, alias string) string {
	if !IsLoopbackHost(host) {
		return host
	}
	if alias != "" {
		return alias
	}
	if IsRunningInDocker() {
		return DockerHostAlias
	}
	return host
}
