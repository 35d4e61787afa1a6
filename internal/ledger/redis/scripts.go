package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS[1] record hash, KEYS[2] index zset, KEYS[3] sequence counter.
// ARGV: id, migration_name, script, checksum, started_at (unix micros).
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('duplicate record id ' .. ARGV[1])
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1],
  'id', ARGV[1],
  'migration_name', ARGV[2],
  'script', ARGV[3],
  'checksum', ARGV[4],
  'started_at', ARGV[5],
  'applied_steps_count', '0',
  'logs', '',
  'last_fragment_digest', '',
  'seq', seq)
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return seq
`)

// KEYS[1] record hash.
// ARGV: fragment, digest, increment ("1"/"0"), suppress repeat ("1"/"0").
// Returns 0 when the record does not exist.
var appendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[4] == '1' and redis.call('HGET', KEYS[1], 'last_fragment_digest') == ARGV[2] then
  return 1
end
local logs = redis.call('HGET', KEYS[1], 'logs') or ''
redis.call('HSET', KEYS[1], 'logs', logs .. ARGV[1], 'last_fragment_digest', ARGV[2])
if ARGV[3] == '1' then
  redis.call('HINCRBY', KEYS[1], 'applied_steps_count', 1)
end
return 1
`)

// KEYS[1] record hash. ARGV: finished_at (unix micros).
// Returns 0 when the record does not exist.
var finishScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], 'finished_at') == 1 then
  return 1
end
local value = ARGV[1]
local started = redis.call('HGET', KEYS[1], 'started_at')
if tonumber(value) < tonumber(started) then
  value = started
end
redis.call('HSET', KEYS[1], 'finished_at', value)
return 1
`)
