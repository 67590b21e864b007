// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

// Package runlock keeps two vidshrink processes from encoding at once.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock
var ErrLocked = errors.New("another vidshrink instance is encoding")

// Lock is an exclusive file lock
type Lock struct {
	path string
	lock *flock.Flock
}

// New creates a lock at path without acquiring it
func New(path string) *Lock {
	return &Lock{path: path, lock: flock.New(path)}
}

// Path of the lock file
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire takes the lock without waiting
func (l *Lock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Acquire waits for the lock until ctx is done, polling every interval
func (l *Lock) Acquire(ctx context.Context, interval time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ok, err := l.lock.TryLockContext(ctx, interval)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrLocked, ctx.Err())
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Release unlocks
func (l *Lock) Release() error {
	return l.lock.Unlock()
}

// Locked reports whether this Lock holds the file
func (l *Lock) Locked() bool {
	return l.lock.Locked()
}
