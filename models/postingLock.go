package models

import (
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mzalendo-mfg/factory_backend/config"
	"gorm.io/gorm"
)

const stockPostingLockName = "stock_posting"

// AcquireStockPostingLock serializes multi-row check-then-deduct sequences
// across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that will do the posting.
func AcquireStockPostingLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", stockPostingLockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire stock posting lock")
	}
	return nil
}

// ReleaseStockPostingLock must run while the transaction is still open: after
// Commit/Rollback the statement never reaches MySQL and the session keeps the
// lock. Callers defer it inside a db.Transaction closure.
func ReleaseStockPostingLock(tx *gorm.DB) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", stockPostingLockName).Scan(&_ok).Error
}

// ObtainBestEffortPostingLock takes a short redis lock so most contention
// never reaches the DB advisory lock. Reliability must not depend on redis:
// callers proceed when redis is down or the lock is contended, because the
// DB locks are the real guarantee.
func ObtainBestEffortPostingLock() *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(config.GetRedisContext(), "lock:"+stockPostingLockName, 10*time.Second, nil)
	if err != nil {
		return nil
	}
	return lock
}

func ReleaseBestEffortPostingLock(lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(config.GetRedisContext())
}
