package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeProgressConsumer runs the Kafka lesson progress consumer.
	ServiceModeProgressConsumer ServiceMode = "progress-consumer"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeProgressConsumer,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeProgressConsumer:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, progress-consumer)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// KafkaConfig contains lesson progress consumer configuration.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS"  envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"TOPIC"    envDefault:"kerdos.lesson-completed"`
	GroupID string   `env:"GROUP_ID" envDefault:"kerdos-progress"`

	// BatchSize is the maximum number of completions applied per flush.
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`

	// BatchTimeout flushes a partial batch after this long.
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT" envDefault:"1s"`
}

// Sanitize applies guardrails to Kafka configuration values.
func (k *KafkaConfig) Sanitize() {
	if k.BatchSize < 1 {
		k.BatchSize = 1
	}
	if k.BatchTimeout <= 0 {
		k.BatchTimeout = time.Second
	}
}

// ContentConfig controls where the learning catalog is loaded from.
type ContentConfig struct {
	// CatalogPath overrides the embedded catalog with a YAML file on disk.
	CatalogPath string `env:"CATALOG_PATH"`
}
