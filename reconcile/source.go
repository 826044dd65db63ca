package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/common"
)

// SailingAvailability current capacity of one scheduled sailing as reported
// by an external operator system
type SailingAvailability struct {
	// FerryID identifies the sailing
	FerryID string `json:"ferry_id" validate:"required"`
	// DepartureTime is the scheduled departure
	DepartureTime time.Time `json:"departure_time"`
	// Availability holds current counts per capacity category
	Availability map[string]int `json:"availability"`
}

// OperatorSource queries an external operator system for current availability
type OperatorSource interface {
	// FetchAvailability fetch current availability of all known sailings on
	// a route topic
	FetchAvailability(ctxt context.Context, topic string) ([]SailingAvailability, error)
}

// operatorHTTPSource implements OperatorSource against an operator REST API
type operatorHTTPSource struct {
	common.Component
	baseURL string
	client  *http.Client
}

// GetOperatorHTTPSource define an OperatorSource backed by an HTTP API
func GetOperatorHTTPSource(baseURL string, requestTimeout time.Duration) (OperatorSource, error) {
	logTags := log.Fields{
		"module":    "reconcile",
		"component": "operator-source",
		"instance":  baseURL,
	}
	return &operatorHTTPSource{
		Component: common.Component{LogTags: logTags},
		baseURL:   baseURL,
		client:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// FetchAvailability fetch current availability of all known sailings on a route
func (s *operatorHTTPSource) FetchAvailability(
	ctxt context.Context, topic string,
) ([]SailingAvailability, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/routes/%s/availability", s.baseURL, url.PathEscape(topic),
	)
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, endpoint, nil)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to build request for %s", topic)
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Operator query for %s failed", topic)
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("operator API returned status %d", resp.StatusCode)
		log.WithError(err).WithFields(s.LogTags).Errorf("Operator query for %s failed", topic)
		return nil, err
	}
	var sailings []SailingAvailability
	if err := json.NewDecoder(resp.Body).Decode(&sailings); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to parse operator response for %s", topic,
		)
		return nil, err
	}
	return sailings, nil
}
