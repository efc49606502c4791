package filter

import (
	"context"
	"encoding/json"

	"github.com/rushteam/movierec/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的电影。
//
// 黑名单来源两处，命中任意一处即过滤：
//   - ItemIDs：配置里写死的电影 ID
//   - Store + Key：存储中 JSON 编码的 []int64，运营可以在线修改
type BlacklistFilter struct {
	// ItemIDs 是内存中的黑名单电影 ID 列表
	ItemIDs []int64

	// Store 用于从存储中读取黑名单（可选）
	Store core.Store

	// Key 是 Store 中的黑名单 key（可选）
	Key string
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(itemIDs []int64, store core.Store, key string) *BlacklistFilter {
	return &BlacklistFilter{
		ItemIDs: itemIDs,
		Store:   store,
		Key:     key,
	}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	_ *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}

	for _, id := range f.ItemIDs {
		if item.ID == id {
			return true, nil
		}
	}

	if f.Store == nil || f.Key == "" {
		return false, nil
	}
	ids, err := f.load(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if item.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// load 读取存储中的黑名单；key 不存在视为空名单。
func (f *BlacklistFilter) load(ctx context.Context) ([]int64, error) {
	data, err := f.Store.Get(ctx, f.Key)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
