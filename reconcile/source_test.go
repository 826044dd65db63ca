package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperatorHTTPSource(t *testing.T) {
	assert := assert.New(t)

	departure := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)
	sailings := []SailingAvailability{
		{
			FerryID:       "CTN-001",
			DepartureTime: departure,
			Availability:  map[string]int{"seats": 120, "vehicles": 14},
		},
	}

	var requestedPath string
	failNext := false
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		if failNext {
			failNext = false
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		assert.Nil(json.NewEncoder(w).Encode(&sailings))
	}))
	defer svr.Close()

	uut, err := GetOperatorHTTPSource(svr.URL, time.Second*5)
	assert.Nil(err)

	// Case 0: fetch parses the operator response
	fetched, err := uut.FetchAvailability(context.Background(), "TUNIS-MARSEILLE")
	assert.Nil(err)
	assert.Equal("/v1/routes/TUNIS-MARSEILLE/availability", requestedPath)
	assert.Len(fetched, 1)
	assert.Equal("CTN-001", fetched[0].FerryID)
	assert.True(departure.Equal(fetched[0].DepartureTime))
	assert.Equal(map[string]int{"seats": 120, "vehicles": 14}, fetched[0].Availability)

	// Case 1: non-200 status is an error
	failNext = true
	_, err = uut.FetchAvailability(context.Background(), "TUNIS-MARSEILLE")
	assert.NotNil(err)

	// Case 2: a cancelled context aborts the call
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = uut.FetchAvailability(cancelled, "TUNIS-MARSEILLE")
	assert.NotNil(err)
}
