package locker

import (
	"sync"
	"time"
)

// Locker 进程内按键互斥锁，带TTL兜底
// TTL 到期后锁可以被下一次调用回收，避免挂死的周期永久占用
type Locker struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> 过期时间
}

func New() *Locker {
	return &Locker{
		locks: make(map[string]time.Time),
	}
}

// TryAcquire 尝试获取锁，成功返回 true
// 已过期的锁视为未持有，直接回收
func (l *Locker) TryAcquire(key string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.locks[key]; held && now.Before(expiry) {
		return false
	}
	l.locks[key] = now.Add(ttl)
	return true
}

// Release 释放锁
func (l *Locker) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
}

// WithLock 持锁执行回调，返回是否真正执行
// 获取失败是正常竞争，调用方按未执行处理即可；回调的任何退出路径都会释放锁
func (l *Locker) WithLock(key string, ttl time.Duration, fn func()) bool {
	if !l.TryAcquire(key, ttl) {
		return false
	}
	defer l.Release(key)
	fn()
	return true
}
