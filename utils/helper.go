package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mobilemart/pos_backend/config"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool)
	result := []T{}
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

// ObtainProductLock takes a short best-effort Redis lock keyed by product id.
// Stock correctness does NOT depend on it (row locks in the ledger do that);
// it only shortens InnoDB lock queues under hot-product contention.
// Returns a release func; both are nil-safe when Redis isn't connected.
func ObtainProductLock(ctx context.Context, productId int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("stock:product:%d", productId)
	lock, err := locker.Obtain(ctx, lockKey, 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for product", productId, err)
		return nil, errors.New("could not obtain lock for product")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for product", productId, err)
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
