// Package lock はクレデンシャルID単位の排他ロックを提供する。
// ストアには楽観ロック用のバージョン/ETagが存在しないため、
// 同一IDに対する割当・回収の「削除→再作成」シーケンスを
// このサービス側で直列化し、二重貸出（lost update）を防ぐ。
package lock

import (
	"context"
	"sync"
)

// Locker はキー単位の排他ロックのインターフェース。
type Locker interface {
	// Acquire は指定キーのロックを取得し、解放関数を返す。
	// 取得できるまでブロックし、コンテキストのキャンセルで中断する。
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex はプロセス内のキー単位ミューテックス。
// 単一インスタンス構成で、REDIS_URLが未設定の場合のフォールバック実装。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex はKeyedMutexの新しいインスタンスを生成する。
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Acquire は指定キーのミューテックスを取得する。
// 参照カウントで未使用エントリを回収し、キー数の増加を防ぐ。
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}, nil
}
