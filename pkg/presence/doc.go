// Package presence records which gateway instance holds a session.
//
// A Tracker writes a claim for every identified session, refreshes it on
// heartbeats and deletes it when the session is purged. Claims expire on
// their own, so a crashed instance's sessions stop being resumable once
// their TTL passes.
//
// # Stores
//
// Claims live in a Store:
//
//   - MemoryStore: in-process, for single-instance deployments and tests
//   - RedisStore: shared through Redis, for multi-instance deployments
//
// # Usage
//
//	store := presence.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
//	tracker := presence.NewTracker(store, presence.WithTTL(3*time.Minute))
//	gw, err := gateway.New(cfg, verifier, gateway.WithPresence(tracker))
package presence
