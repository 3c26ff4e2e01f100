package packaging

import "fmt"

// GenerateDefaultConfig produces a starter config.yaml that monitors every
// system interface through the given backend and data directory.
func GenerateDefaultConfig(backend, dataDir string) string {
	return fmt.Sprintf(`# uplinkd configuration

log_level: info
data_dir: %s

routing:
  backend: %s
  withdraw_on_shutdown: false

probe:
  port: 80
  timeout: 1s

# List uplinks explicitly, lowest metric preferred:
# interfaces:
#   - name: wan0
#     metric: 10
#     check_interval: 5s
#     target_ip: 1.1.1.1

auto:
  metric: 100
  check_interval: 10s
  target_ip: 1.1.1.1
`, dataDir, backend)
}
