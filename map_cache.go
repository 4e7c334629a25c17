package jamulsoe

import "sync"

// lockMapCache is the fast path for column-family lookup: TryLock and Unlock
// resolve their lock map here without touching the registry mutex. sync.Map
// is the read-mostly cache this access pattern wants; misses fall through to
// the registry and populate the cache.
//
// Removing a column family invalidates its entry so every later lookup
// misses, while operations already holding the *lockMap keep using it until
// they return.
type lockMapCache struct {
	maps sync.Map // ColumnFamilyID -> *lockMap
}

func (c *lockMapCache) get(cf ColumnFamilyID) *lockMap {
	v, ok := c.maps.Load(cf)
	if !ok {
		return nil
	}
	return v.(*lockMap)
}

func (c *lockMapCache) put(cf ColumnFamilyID, lm *lockMap) {
	c.maps.Store(cf, lm)
}

func (c *lockMapCache) invalidate(cf ColumnFamilyID) {
	c.maps.Delete(cf)
}
