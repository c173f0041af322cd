// Package redis implements store.Store on go-redis. Suitable for
// high-throughput deployments where pipeline state is rebuilt from the
// CRM on loss. Workflows live in Hashes, audit trails in Lists, and
// ownership leases in plain keys with TTL expiry.
//
// The caller owns the client lifecycle -- Close is a no-op:
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    "github.com/victorbash400/rainmaker/store/redis"
//	)
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client)
//	if err := store.Ping(ctx); err != nil { ... }
package redis
