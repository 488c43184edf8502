package logging

import (
	"encoding/json"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ss75710541/marathon/internal/models"
)

func formatEntry(t *testing.T, fields log.Fields) map[string]interface{} {
	t.Helper()
	f := NewSecretsFormatter()
	entry := &log.Entry{Data: fields, Time: time.Now(), Level: log.InfoLevel, Message: "test"}
	out, err := f.Format(entry)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	return decoded
}

func TestRedactsAppCommand(t *testing.T) {
	decoded := formatEntry(t, log.Fields{
		"app": models.App{ID: "app1", Command: "sh -c 'export TOKEN=secret'"},
	})

	app := decoded["app"].(map[string]interface{})
	assert.Equal(t, redacted, app["Command"])
	assert.Equal(t, "app1", app["ID"])
}

func TestRedactsAppPointerWithoutMutatingOriginal(t *testing.T) {
	original := &models.App{ID: "app1", Command: "secret-command"}
	decoded := formatEntry(t, log.Fields{"app": original})

	app := decoded["app"].(map[string]interface{})
	assert.Equal(t, redacted, app["Command"])
	assert.Equal(t, "secret-command", original.Command, "the caller's App value must not be mutated")
}

func TestRedactsLaunchSpecSlice(t *testing.T) {
	specs := []models.LaunchSpec{
		{TaskID: "app1.a", Command: "secret-a"},
		{TaskID: "app1.b", Command: "secret-b"},
	}
	decoded := formatEntry(t, log.Fields{"specs": specs})

	list := decoded["specs"].([]interface{})
	require.Len(t, list, 2)
	for _, item := range list {
		spec := item.(map[string]interface{})
		assert.Equal(t, redacted, spec["Command"])
	}
	assert.Equal(t, "secret-a", specs[0].Command, "the caller's slice must not be mutated")
}

func TestLeavesUnrelatedFieldsUntouched(t *testing.T) {
	decoded := formatEntry(t, log.Fields{"offer_id": "offer-1", "count": 3})

	assert.Equal(t, "offer-1", decoded["offer_id"])
	assert.EqualValues(t, 3, decoded["count"])
}
