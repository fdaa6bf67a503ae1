package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "atomctl":
		return atomctlTemplate, nil
	case "minimal":
		return minimalTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const atomctlTemplate = `[serial]
port = "/dev/ttyUSB0"
baud = 115200

[retry]
max_attempts = 3
attempt_timeout = "500ms"
backoff_initial = "0s"
backoff_multiplier = 2.0
backoff_max = "2s"

[wake]
enabled = true
max_attempts = 2
timeout = "250ms"

[channels]
max = 8

[log]
level = "info"

[metrics]
addr = ""
`

const minimalTemplate = `[serial]
port = "/dev/ttyUSB0"
`
