package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript moves up to ARGV[2] due jobs out of one queue and marks them
// running for worker ARGV[3].
//
// KEYS[1] queue zset
// ARGV: now (ms), limit, worker id, now (RFC 3339), key prefix
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[5] .. 'job:' .. id
  redis.call('HSET', key,
    'state', 'running',
    'worker_id', ARGV[3],
    'started_at', ARGV[4],
    'heartbeat_at', ARGV[4],
    'updated_at', ARGV[4])
  local name = redis.call('HGET', key, 'name')
  if name then
    redis.call('SREM', ARGV[5] .. 'scheduled:' .. name, id)
  end
end
return ids
`)

// cancelScript cancels every pending job indexed under one job name and
// returns how many it cancelled.
//
// KEYS[1] scheduled set
// ARGV: now (RFC 3339), key prefix
var cancelScript = goredis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. 'job:' .. id
  local fields = redis.call('HMGET', key, 'state', 'queue')
  if fields[1] == 'pending' then
    redis.call('ZREM', ARGV[2] .. 'queue:' .. fields[2], id)
    redis.call('HSET', key, 'state', 'cancelled', 'cancelled_at', ARGV[1], 'updated_at', ARGV[1])
    n = n + 1
  end
  redis.call('SREM', KEYS[1], id)
end
return n
`)

// resetScript returns a job to retrying only while it is still running
// under the given worker. It returns 1 on reset, 0 when the job moved on
// and -1 when it does not exist.
//
// KEYS[1] job hash
// ARGV: worker id, run_at (RFC 3339), run_at (ms), now (RFC 3339), key prefix, job id
var resetScript = goredis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'state', 'worker_id', 'queue')
if not f[1] then
  return -1
end
if f[1] ~= 'running' or f[2] ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1],
  'state', 'retrying',
  'worker_id', '',
  'run_at', ARGV[2],
  'updated_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'started_at', 'heartbeat_at')
redis.call('ZADD', ARGV[5] .. 'queue:' .. f[3], tonumber(ARGV[3]), ARGV[6])
return 1
`)

// acquireScript takes or extends a lease.
//
// KEYS[1] lock key
// ARGV: owner, ttl (ms)
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', tonumber(ARGV[2]))
return 1
`)

// releaseScript deletes a lease only if owner still holds it.
//
// KEYS[1] lock key
// ARGV: owner
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
