package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")

	err := fmt.Errorf("scan: %w", NetworkError("fetch page", cause))
	assert.True(t, IsKind(err, KindNetwork))
	assert.False(t, IsKind(err, KindAPI))
	assert.ErrorIs(t, err, cause)

	apiErr := APIError("fetch page", 503, "unavailable")
	assert.True(t, IsKind(apiErr, KindAPI))
	assert.Equal(t, "fetch page: api error: HTTP 503: unavailable", apiErr.Error())

	var e *Error
	assert.True(t, errors.As(apiErr, &e))
	assert.Equal(t, 503, e.Status)

	storeErr := StorageError("save market", cause)
	assert.Equal(t, "save market: storage error: connection refused", storeErr.Error())

	cfgErr := ConfigError("open store", "unknown storage type", nil)
	assert.Equal(t, "open store: config error: unknown storage type", cfgErr.Error())
}

func TestParseEventKind(t *testing.T) {
	for _, k := range EventKinds {
		got, err := ParseEventKind(string(k))
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseEventKind("Resolved")
	assert.Error(t, err)
}
