package store_test

import (
	"github.com/xraph/granter/store"
	"github.com/xraph/granter/store/memory"
	"github.com/xraph/granter/store/postgres"
	"github.com/xraph/granter/store/redis"
)

var (
	_ store.Store      = (*memory.Store)(nil)
	_ store.Store      = (*postgres.Store)(nil)
	_ store.Store      = (*redis.Store)(nil)
	_ store.BadgeStore = (*memory.Store)(nil)
	_ store.BadgeStore = (*postgres.Store)(nil)
)
