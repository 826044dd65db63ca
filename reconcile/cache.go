package reconcile

import (
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/medferry/availability/common"
	gocache "github.com/patrickmn/go-cache"
)

// SnapshotCache stores the last-observed serialized availability per
// (topic, ferry) with a bounded TTL. Used only for change detection, never
// as a source of truth for clients.
type SnapshotCache interface {
	// Get fetch the cached snapshot for a sailing
	Get(topic, ferryID string) (string, bool)
	// Put store a snapshot for a sailing, refreshing its TTL
	Put(topic, ferryID, snapshot string)
}

// snapshotCacheImpl implements SnapshotCache over an expiring key-value store
type snapshotCacheImpl struct {
	common.Component
	store *gocache.Cache
}

// GetSnapshotCache define a new SnapshotCache with entry TTL
func GetSnapshotCache(ttl time.Duration) (SnapshotCache, error) {
	logTags := log.Fields{
		"module":    "reconcile",
		"component": "snapshot-cache",
	}
	return &snapshotCacheImpl{
		Component: common.Component{LogTags: logTags},
		store:     gocache.New(ttl, ttl*2),
	}, nil
}

// cacheKey snapshot entries are keyed by (topic, ferry)
func cacheKey(topic, ferryID string) string {
	return fmt.Sprintf("%s/%s", topic, ferryID)
}

// Get fetch the cached snapshot for a sailing
func (c *snapshotCacheImpl) Get(topic, ferryID string) (string, bool) {
	entry, found := c.store.Get(cacheKey(topic, ferryID))
	if !found {
		return "", false
	}
	snapshot, ok := entry.(string)
	return snapshot, ok
}

// Put store a snapshot for a sailing, refreshing its TTL
func (c *snapshotCacheImpl) Put(topic, ferryID, snapshot string) {
	c.store.SetDefault(cacheKey(topic, ferryID), snapshot)
}
