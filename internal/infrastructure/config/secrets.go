package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
)

// Broker holds MQTT broker defaults as compiled into the firmware.
type Broker struct {
	Host     string
	Port     int
	User     string
	Password string
}

var (
	defineHost = regexp.MustCompile(`#define\s+MQTT_BROKER_HOST\s+"([^"]+)"`)
	definePort = regexp.MustCompile(`#define\s+MQTT_BROKER_PORT\s+(\d+)`)
	defineUser = regexp.MustCompile(`#define\s+MQTT_BROKER_USER\s+"([^"]*)"`)
	definePass = regexp.MustCompile(`#define\s+MQTT_BROKER_PASS\s+"([^"]*)"`)
)

// DefaultBroker returns the broker the stock firmware build points at.
func DefaultBroker() Broker {
	return Broker{
		Host:     "192.168.1.10",
		Port:     1883,
		User:     "mirror",
		Password: "steelthread",
	}
}

// LoadSecretsHeader reads the MQTT_BROKER_* defines from a firmware
// secrets.h. A missing file yields DefaultBroker without error; defines
// absent from the file keep their default values.
func LoadSecretsHeader(path string) (Broker, error) {
	b := DefaultBroker()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("reading secrets header: %w", err)
	}

	return ParseSecretsHeader(string(data)), nil
}

// ParseSecretsHeader extracts broker settings from header text.
func ParseSecretsHeader(text string) Broker {
	b := DefaultBroker()
	if m := defineHost.FindStringSubmatch(text); m != nil {
		b.Host = m[1]
	}
	if m := definePort.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			b.Port = n
		}
	}
	if m := defineUser.FindStringSubmatch(text); m != nil {
		b.User = m[1]
	}
	if m := definePass.FindStringSubmatch(text); m != nil {
		b.Password = m[1]
	}
	return b
}
