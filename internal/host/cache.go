package host

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-rendezvous/internal/rendezvous"
)

// discoveryCache 按命名空间缓存最近一次发现结果
//
// 空命名空间对应"列出全部"的结果。lru.Cache 自带锁，可在循环之外读取。
type discoveryCache struct {
	entries *lru.Cache[string, []rendezvous.Registration]
}

func newDiscoveryCache(size int) (*discoveryCache, error) {
	entries, err := lru.New[string, []rendezvous.Registration](size)
	if err != nil {
		return nil, err
	}
	return &discoveryCache{entries: entries}, nil
}

// put 覆盖命名空间的缓存
func (c *discoveryCache) put(namespace string, regs []rendezvous.Registration) {
	c.entries.Add(namespace, append([]rendezvous.Registration(nil), regs...))
}

// get 返回未过期的缓存条目
func (c *discoveryCache) get(namespace string, now time.Time) ([]rendezvous.Registration, bool) {
	regs, ok := c.entries.Get(namespace)
	if !ok {
		return nil, false
	}
	var live []rendezvous.Registration
	for _, reg := range regs {
		if !reg.IsExpired(now) {
			live = append(live, reg)
		}
	}
	return live, true
}

// purge 清空缓存
func (c *discoveryCache) purge() {
	c.entries.Purge()
}
