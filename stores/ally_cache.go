package stores

import (
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-redis/redis"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

// set of the ids of the users whose waves a user may see
const keyTmplAllies = "allies:%s"

// AllyCache is a size-bounded, expiring local cache of ally sets in front of Redis. Ally
// membership changes take up to the entry expiry to show.
type AllyCache struct {
	db    *redis.Client
	cache gcache.Cache
}

func NewAllyCache(db *redis.Client, size int, expiry time.Duration) *AllyCache {
	a := &AllyCache{db: db}
	a.cache = gcache.New(size).LRU().Expiration(expiry).LoaderFunc(func(key interface{}) (interface{}, error) {
		return a.load(key.(string))
	}).Build()
	return a
}

// Get returns the ally set of userID. A user without allies gets an empty set.
func (a *AllyCache) Get(userID string) (md.IDSet, *se.Err) {
	v, err := a.cache.Get(userID)
	if err != nil {
		logging.WithFuncName().WithError(err).WithField(cst.LogFieldViewerID, userID).Error("error loading allies")
		return nil, se.NewServiceFailure("error loading allies").WithCause(err)
	}
	return v.(md.IDSet), nil
}

// Invalidate drops the cached ally set of userID so that the next Get reloads it
func (a *AllyCache) Invalidate(userID string) {
	a.cache.Remove(userID)
}

func (a *AllyCache) load(userID string) (md.IDSet, error) {
	ids, err := a.db.SMembers(alliesKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return md.NewIDSet(ids...), nil
}

func alliesKey(userID string) string {
	return fmt.Sprintf(keyTmplAllies, userID)
}
