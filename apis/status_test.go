package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/medferry/availability/broadcast"
	"github.com/medferry/availability/common"
	"github.com/stretchr/testify/assert"
)

// fakeClientConnection minimal ClientConnection for registry seeding
type fakeClientConnection struct{}

func (c *fakeClientConnection) Send([]byte) error { return nil }
func (c *fakeClientConnection) Close() error      { return nil }

// capturedPublish one payload written to the fake bus
type capturedPublish struct {
	subject string
	payload []byte
}

// fakeBusPublisher test double for the fan-out bus
type fakeBusPublisher struct {
	published chan capturedPublish
}

func (b *fakeBusPublisher) Publish(subject string, payload []byte) error {
	b.published <- capturedPublish{subject: subject, payload: payload}
	return nil
}

func defineTestHTTPConfig() *common.HTTPConfig {
	return &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Medferry-Request-ID",
			DoNotLogHeaders: []string{"Authorization"},
		},
	}
}

func TestRestStatsEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry, err := broadcast.GetConnectionRegistry("ut-rest")
	assert.Nil(err)
	uut, err := GetAPIRestAvailabilityHandler(registry, nil, nil, defineTestHTTPConfig())
	assert.Nil(err)

	conn := &fakeClientConnection{}
	clientID, err := registry.Register(conn)
	assert.Nil(err)
	registry.Subscribe(clientID, []string{"Tunis Marseille"})

	// Case 0: stats snapshot reflects the registry
	req, err := http.NewRequest("GET", "/v1/availability/stats", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	uut.StatsHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
	var resp APIRestRespStats
	assert.Nil(json.NewDecoder(respRecorder.Body).Decode(&resp))
	assert.True(resp.Success)
	assert.Equal(1, resp.Stats.ActiveConnections)
	assert.Equal(1, resp.Stats.Subscriptions["TUNIS-MARSEILLE"])

	// Case 1: liveness probe
	req, err = http.NewRequest("GET", "/alive", nil)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	uut.AliveHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
}

func TestRestPublishEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	defer wg.Wait()
	defer utCtxtCancel()

	registry, err := broadcast.GetConnectionRegistry("ut-rest-publish")
	assert.Nil(err)
	bus := &fakeBusPublisher{published: make(chan capturedPublish, 4)}
	publisher, err := broadcast.GetInstantPublisher(bus, "availability", 4, utCtxt)
	assert.Nil(err)
	assert.Nil(publisher.Start(&wg))
	defer func() {
		assert.Nil(publisher.Stop())
	}()

	uut, err := GetAPIRestAvailabilityHandler(registry, publisher, nil, defineTestHTTPConfig())
	assert.Nil(err)

	// Case 0: valid publish lands on the bus channel
	body, err := json.Marshal(&APIRestReqPublish{
		Route:         "Tunis Marseille",
		FerryID:       "CTN-001",
		DepartureTime: time.Date(2026, 9, 2, 6, 45, 0, 0, time.UTC),
		Availability:  map[string]int{"seats": 98},
	})
	assert.Nil(err)
	req, err := http.NewRequest("POST", "/v1/availability/publish", bytes.NewBuffer(body))
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	uut.PublishChangeHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
	{
		record := <-bus.published
		assert.Equal("availability.TUNIS-MARSEILLE", record.subject)
		var event broadcast.AvailabilityEvent
		assert.Nil(json.Unmarshal(record.payload, &event))
		assert.Equal("CTN-001", event.FerryID)
		assert.Equal(broadcast.SourceInternal, event.Source)
	}

	// Case 1: body failing validation rejected
	body, err = json.Marshal(&APIRestReqPublish{Route: "Tunis Marseille"})
	assert.Nil(err)
	req, err = http.NewRequest("POST", "/v1/availability/publish", bytes.NewBuffer(body))
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	uut.PublishChangeHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusBadRequest, respRecorder.Code)
	var errResp goutils.RestAPIBaseResponse
	assert.Nil(json.NewDecoder(respRecorder.Body).Decode(&errResp))
	assert.False(errResp.Success)

	// Case 2: unparsable body rejected
	req, err = http.NewRequest(
		"POST", "/v1/availability/publish", bytes.NewBufferString("{not json"),
	)
	assert.Nil(err)
	respRecorder = httptest.NewRecorder()
	uut.PublishChangeHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusBadRequest, respRecorder.Code)
}
