// Package store 提供 core.Store / core.KeyValueStore 的实现。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var kv core.KeyValueStore = store.NewMemoryStore()
//	repo := dataset.NewKVRepository(kv, "movierec")
package store

import "github.com/rushteam/movierec/core"

// ErrNotFound 与 core.ErrStoreNotFound 相同，方便包内使用。
var ErrNotFound = core.ErrStoreNotFound
