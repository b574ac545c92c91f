package redis

const (
	// recordEpochScript atomically allocates an epoch ID, stores the epoch
	// hash, indexes it and trims the journal to the history limit.
	recordEpochScript = `
local seq_key = KEYS[1]       -- icerotate:epochs:seq
local index_key = KEYS[2]     -- icerotate:epochs
local prefix = ARGV[1]        -- icerotate:epoch:
local limit = tonumber(ARGV[2])

local id = redis.call('INCR', seq_key)
local epoch_key = prefix .. id

redis.call('HSET', epoch_key,
  'id', id,
  'reason', ARGV[3],
  'baseline_mb', ARGV[4],
  'quota_mb', ARGV[5],
  'host_name', ARGV[6],
  'hardware_address', ARGV[7],
  'started_at', ARGV[8]
)
redis.call('ZADD', index_key, id, id)

-- Drop the oldest epochs beyond the limit
local count = redis.call('ZCARD', index_key)
if count > limit then
  local stale = redis.call('ZRANGE', index_key, 0, count - limit - 1)
  for _, old_id in ipairs(stale) do
    redis.call('DEL', prefix .. old_id)
  end
  redis.call('ZREMRANGEBYRANK', index_key, 0, count - limit - 1)
end

return id
`
)
