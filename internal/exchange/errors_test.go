package exchange

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(http.StatusBadRequest), ErrPermanentVenue)
	assert.ErrorIs(t, classifyStatus(http.StatusNotFound), ErrPermanentVenue)
	assert.ErrorIs(t, classifyStatus(http.StatusTooManyRequests), ErrTransientVenue)
	assert.ErrorIs(t, classifyStatus(http.StatusInternalServerError), ErrTransientVenue)
	assert.ErrorIs(t, classifyStatus(http.StatusBadGateway), ErrTransientVenue)
}

func TestVenueErrorUnwraps(t *testing.T) {
	err := wrapStatus("binance", "depth", 503, errors.New("boom"))

	var verr *VenueError
	assert.ErrorAs(t, err, &verr)
	assert.True(t, verr.Retryable())
	assert.ErrorIs(t, err, ErrTransientVenue)
	assert.Contains(t, verr.Error(), "depth")
	assert.Contains(t, verr.Error(), "503")
}
