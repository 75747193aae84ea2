package utils

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mobilemart/pos_backend/config"
)

var mutex sync.Mutex

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// store list, TypeList
func StoreRedisList[T any](list []*T) error {
	var key string = GetTypeName[T]() + "List"
	return config.SetRedisObject(key, &list, GetCacheLifespan())
}

// retrieve list, TypeList (nil when not cached)
func RetrieveRedisList[T any]() ([]*T, error) {
	var key string = GetTypeName[T]() + "List"
	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList
func RemoveRedisList[T any]() error {
	var key string = GetTypeName[T]() + "List"
	return config.RemoveRedisKey(key)
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// GetStoreSequence allocates the next per-store sequence number for T
// (T must have store_id and sequence_no columns). The counter lives in
// Redis (INCR) and is seeded from the DB max on first use; the result is
// double-checked against the DB so a flushed Redis can never hand out a
// number twice.
//
// Scanning all existing numbers and taking max+1 per call is NOT an
// option: it races under concurrent checkout.
func GetStoreSequence[T any](ctx context.Context, storeId int, storePrefix string) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()

	cacheKey := "seq:" + strings.ToLower(GetTypeName[T]()) + ":" + storePrefix
	var seqNo int64
	var err error
	db := config.GetDB()

	for {
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// fresh counter (or Redis unavailable): seed from db
		if seqNo <= 1 {
			var dbSeq *int64
			if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
				Where("store_id = ?", storeId).
				Scan(&dbSeq).Error; err != nil {
				return 0, err
			}
			if dbSeq == nil {
				seqNo = 0
			} else {
				seqNo = *dbSeq
			}
			seqNo++
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		// check if sequence number exists in db
		count, err := ResourceCountWhere[T](ctx, "store_id = ? AND sequence_no = ?", storeId, seqNo)
		if err != nil {
			return 0, err
		}
		if count == 0 {
			break
		}
	}
	return seqNo, nil
}
