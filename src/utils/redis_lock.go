package utils

import (
	"github.com/zeromicro/go-zero/core/stores/redis"
)

func GetRedisLockByKey(conn *redis.Redis, key string) *redis.RedisLock {
	lock := redis.NewRedisLock(conn, key)
	lock.SetExpire(RedisLockExpire)
	return lock
}

func TryAcquireLock(lock *redis.RedisLock) error {
	ok, err := lock.Acquire()
	if err != nil {
		return err
	}
	if !ok {
		return GetRedisLockFailed
	}
	return nil
}
