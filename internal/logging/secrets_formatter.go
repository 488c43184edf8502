// Package logging configures process-wide structured logging.
//
// SecretsFormatter is grounded on common/logging/secrets_formatter.go: a
// logrus.Formatter wrapping JSONFormatter that inspects each entry's fields
// for known sensitive types and redacts them before delegating to the
// wrapped formatter. The original scrubs Mesos secret volumes out of
// hostsvc launch requests; this adaptation scrubs command lines out of the
// App/LaunchSpec values the launch pipeline logs when tracing a launch.
package logging

import (
	log "github.com/sirupsen/logrus"

	"github.com/ss75710541/marathon/internal/models"
)

const redacted = "REDACTED"

// SecretsFormatter scrubs App.Command and LaunchSpec.Command out of logged
// fields before formatting as JSON, since app commands routinely embed
// credentials passed via inline shell arguments.
type SecretsFormatter struct {
	*log.JSONFormatter
}

// NewSecretsFormatter returns a SecretsFormatter wrapping a standard
// logrus JSON formatter.
func NewSecretsFormatter() *SecretsFormatter {
	return &SecretsFormatter{JSONFormatter: &log.JSONFormatter{}}
}

// Format is called by logrus for every log entry.
func (f *SecretsFormatter) Format(entry *log.Entry) ([]byte, error) {
	for k, v := range entry.Data {
		switch val := v.(type) {
		case models.App:
			val.Command = redacted
			entry.Data[k] = val
		case *models.App:
			if val != nil {
				clone := *val
				clone.Command = redacted
				entry.Data[k] = &clone
			}
		case models.LaunchSpec:
			val.Command = redacted
			entry.Data[k] = val
		case *models.LaunchSpec:
			if val != nil {
				clone := *val
				clone.Command = redacted
				entry.Data[k] = &clone
			}
		case []models.LaunchSpec:
			clones := make([]models.LaunchSpec, len(val))
			for i, spec := range val {
				spec.Command = redacted
				clones[i] = spec
			}
			entry.Data[k] = clones
		}
	}
	return f.JSONFormatter.Format(entry)
}
