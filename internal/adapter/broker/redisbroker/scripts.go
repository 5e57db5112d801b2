package redisbroker

import "github.com/redis/go-redis/v9"

// Lua keeps every multi-key transition atomic: a job's state, its place on
// the queues, its lease entry and its progress stream always change together.

// submitScript persists a new job and enqueues it, or returns 0 when the id
// already exists (idempotent submit). The initial "queued" progress event is
// appended in the same step so seq 1 is always present.
// KEYS: job, pending, progress
// ARGV: id, question, primary_file, submitted_at, queued_event_json
var submitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "question", ARGV[2],
  "primary_file", ARGV[3],
  "submitted_at", ARGV[4],
  "state", "PENDING",
  "attempts", 0,
  "cancel", 0)
redis.call("LPUSH", KEYS[2], ARGV[1])
local ev = cjson.decode(ARGV[5])
ev["seq"] = redis.call("LLEN", KEYS[3]) + 1
redis.call("RPUSH", KEYS[3], cjson.encode(ev))
return 1
`)

// claimScript marks a popped job RESERVED under a fresh lease. Returns 0 when
// the job record vanished or is no longer PENDING (it is dropped from the
// working list by the caller).
// KEYS: job, leases, working
// ARGV: id, token, expiry_unix
var claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
local state = redis.call("HGET", KEYS[1], "state")
if state ~= "PENDING" then
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
redis.call("HSET", KEYS[1], "state", "RESERVED", "lease_token", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// extendScript pushes a live lease forward; 0 means the lease was already
// reclaimed or superseded.
// KEYS: job, leases
// ARGV: id, token, new_expiry_unix
var extendScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lease_token") ~= ARGV[2] then
  return 0
end
if redis.call("ZSCORE", KEYS[2], ARGV[1]) == false then
  return 0
end
redis.call("ZADD", KEYS[2], "XX", ARGV[3], ARGV[1])
return 1
`)

// publishScript appends one progress event, assigning seq server-side. The
// first publish after a claim moves the job RESERVED -> RUNNING. Publishing to
// a finished stream is refused so seq never moves past the terminal event.
// KEYS: job, progress
// ARGV: event_json
var publishScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if state == false then
  return -1
end
if state == "SUCCEEDED" or state == "FAILED" or state == "CANCELED" then
  return 0
end
if state == "RESERVED" then
  redis.call("HSET", KEYS[1], "state", "RUNNING")
end
local ev = cjson.decode(ARGV[1])
ev["seq"] = redis.call("LLEN", KEYS[2]) + 1
redis.call("RPUSH", KEYS[2], cjson.encode(ev))
return ev["seq"]
`)

// completeScript performs the single terminal write: verify the lease, set
// the terminal state, append the final progress event, release the lease and
// start the retention clock. Idempotent by lease token: a repeat call on an
// already-terminal job returns 1 without a second write; a foreign token on a
// live job returns 0 (lease lost).
// KEYS: job, leases, working, progress
// ARGV: id, token, state, result, error_kind, error_msg, final_event_json, retention_secs
var completeScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if cur == false then
  return 0
end
if cur == "SUCCEEDED" or cur == "FAILED" or cur == "CANCELED" then
  return 1
end
if redis.call("HGET", KEYS[1], "lease_token") ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1],
  "state", ARGV[3],
  "result", ARGV[4],
  "error_kind", ARGV[5],
  "error_msg", ARGV[6],
  "lease_token", "")
local ev = cjson.decode(ARGV[7])
ev["seq"] = redis.call("LLEN", KEYS[4]) + 1
redis.call("RPUSH", KEYS[4], cjson.encode(ev))
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("LREM", KEYS[3], 0, ARGV[1])
local ttl = tonumber(ARGV[8])
if ttl > 0 then
  redis.call("EXPIRE", KEYS[1], ttl)
  redis.call("EXPIRE", KEYS[4], ttl)
end
return 1
`)

// requeueScript nacks a reserved job: back to PENDING with attempts
// incremented while attempts < max, else a terminal FAILED write with kind
// Internal (the state store itself is fine; the job ran out of retries). When
// ARGV[2] is empty the lease check is skipped (lease-expiry reclaim path).
// Returns 1 for requeued, 2 for failed terminally, 0 for lease lost/no-op.
// KEYS: job, leases, working, pending, progress
// ARGV: id, token, max_attempts, reason, fail_event_json, retention_secs
var requeueScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "state")
if cur == false then
  redis.call("ZREM", KEYS[2], ARGV[1])
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
if cur == "SUCCEEDED" or cur == "FAILED" or cur == "CANCELED" then
  redis.call("ZREM", KEYS[2], ARGV[1])
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
if ARGV[2] ~= "" and redis.call("HGET", KEYS[1], "lease_token") ~= ARGV[2] then
  return 0
end
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts")) or 0
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("LREM", KEYS[3], 0, ARGV[1])
if attempts + 1 < tonumber(ARGV[3]) then
  redis.call("HSET", KEYS[1], "state", "PENDING", "attempts", attempts + 1, "lease_token", "")
  redis.call("LPUSH", KEYS[4], ARGV[1])
  return 1
end
redis.call("HSET", KEYS[1],
  "state", "FAILED",
  "attempts", attempts + 1,
  "error_kind", "Internal",
  "error_msg", ARGV[4],
  "lease_token", "")
local ev = cjson.decode(ARGV[5])
ev["seq"] = redis.call("LLEN", KEYS[5]) + 1
redis.call("RPUSH", KEYS[5], cjson.encode(ev))
local ttl = tonumber(ARGV[6])
if ttl > 0 then
  redis.call("EXPIRE", KEYS[1], ttl)
  redis.call("EXPIRE", KEYS[5], ttl)
end
return 2
`)

// recoverScript returns a stranded working entry to the pending queue. A
// worker that dies between the BLMOVE pop and the claim script leaves the id
// on the working list with state PENDING and no lease entry; without this
// sweep no path ever re-delivers the job. Claimed jobs (lease present) are
// left to the lease-expiry sweep; terminal leftovers are just dropped.
// Returns 1 when the id was pushed back to pending.
// KEYS: job, leases, working, pending
// ARGV: id
var recoverScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
local state = redis.call("HGET", KEYS[1], "state")
if state == "SUCCEEDED" or state == "FAILED" or state == "CANCELED" then
  redis.call("LREM", KEYS[3], 0, ARGV[1])
  return 0
end
if state ~= "PENDING" then
  return 0
end
if redis.call("ZSCORE", KEYS[2], ARGV[1]) ~= false then
  return 0
end
redis.call("LREM", KEYS[3], 0, ARGV[1])
redis.call("LPUSH", KEYS[4], ARGV[1])
return 1
`)
