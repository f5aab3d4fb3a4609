package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ValidateStruct runs validator/v10 tag validation on a workflow input.
func ValidateStruct(input any) error {
	return validate.Struct(input)
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func IntPtr(v int) *int { return &v }

func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// SameBinTuple reports whether two (storeroom, location, bin) tuples refer to
// the same physical bucket. NULL location/bin is the storeroom-level
// unassigned bucket.
func SameBinTuple(aStoreroom int, aLocation, aBin *int, bStoreroom int, bLocation, bBin *int) bool {
	if aStoreroom != bStoreroom {
		return false
	}
	return equalIntPtr(aLocation, bLocation) && equalIntPtr(aBin, bBin)
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AggregateLock serializes whole aggregate operations on a shared Redis lock.
// Degrades to a no-op when Redis isn't configured (dev/test), leaving row
// locks inside the transaction as the only concurrency control.
func AggregateLock(ctx context.Context, lockKey string, moduleName string, functionName string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("aggLock:%s", lockKey), 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(config.GetLogger(), moduleName, functionName, "could not obtain aggregate lock", lockKey, err)
		return nil, errors.New("could not obtain aggregate lock")
	} else if err != nil {
		config.LogError(config.GetLogger(), moduleName, functionName, "error obtaining aggregate lock", lockKey, err)
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
