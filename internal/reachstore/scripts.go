package reachstore

import "github.com/redis/go-redis/v9"

// Server-side scripts. Each one performs its condition checks and its
// state mutation in a single atomic step; times arrive as unix
// milliseconds in ARGV so the server never consults its own clock.

// acquireWriteScript takes the writer lock, minting or replacing the
// snapshot metadata when none is usable.
//
// KEYS: meta, writer, readers
// ARGV: now_ms, freshness_ms, snapshot_ttl_ms, lock_ttl_ms, lock_id, data_id
// Returns {'already_locked'} or {outcome, data_id}.
var acquireWriteScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local freshness = tonumber(ARGV[2])

local wstale = redis.call('HGET', KEYS[2], 'stale_at')
if wstale and tonumber(wstale) <= now then
	redis.call('DEL', KEYS[2])
end
local readers = redis.call('HGETALL', KEYS[3])
for i = 1, #readers, 2 do
	if tonumber(readers[i + 1]) <= now then
		redis.call('HDEL', KEYS[3], readers[i])
	end
end

if redis.call('EXISTS', KEYS[2]) == 1 or redis.call('HLEN', KEYS[3]) > 0 then
	return {'already_locked'}
end

local outcome = 'existing'
local data_id = ARGV[6]
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if not expires then
	outcome = 'initialized'
elseif tonumber(expires) <= now or tonumber(expires) - now < freshness then
	outcome = 'replaced_stale'
end

if outcome == 'existing' then
	data_id = redis.call('HGET', KEYS[1], 'data_id')
else
	expires = tostring(now + tonumber(ARGV[3]))
	redis.call('DEL', KEYS[1])
	redis.call('HSET', KEYS[1], 'data_id', data_id, 'initialized_at', now, 'expires_at', expires)
	redis.call('PEXPIREAT', KEYS[1], expires)
end

redis.call('HSET', KEYS[2], 'lock_id', ARGV[5], 'stale_at', now + tonumber(ARGV[4]))
redis.call('PEXPIREAT', KEYS[2], tonumber(expires))
return {outcome, data_id}
`)

// acquireReadScript registers a reader slot. Never initializes metadata.
//
// KEYS: meta, writer, readers
// ARGV: now_ms, freshness_ms, lock_ttl_ms, lock_id
// Returns {'not_found'}, {'already_locked'}, or {'existing', data_id, readers}.
var acquireReadScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local freshness = tonumber(ARGV[2])

local wstale = redis.call('HGET', KEYS[2], 'stale_at')
if wstale and tonumber(wstale) <= now then
	redis.call('DEL', KEYS[2])
end
local readers = redis.call('HGETALL', KEYS[3])
for i = 1, #readers, 2 do
	if tonumber(readers[i + 1]) <= now then
		redis.call('HDEL', KEYS[3], readers[i])
	end
end

local expires = redis.call('HGET', KEYS[1], 'expires_at')
if not expires or tonumber(expires) <= now or tonumber(expires) - now < freshness then
	return {'not_found'}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return {'already_locked'}
end

local data_id = redis.call('HGET', KEYS[1], 'data_id')
redis.call('HSET', KEYS[3], ARGV[4], now + tonumber(ARGV[3]))
redis.call('PEXPIREAT', KEYS[3], tonumber(expires))
return {'existing', data_id, redis.call('HLEN', KEYS[3])}
`)

// releaseScript drops ownership and reports the resulting lock state.
// Stale locks are pruned first, so a lock that expired before release
// comes back as not held.
//
// KEYS: writer, readers
// ARGV: now_ms, kind, lock_id
// Returns {held, readers, writer}.
var releaseScript = redis.NewScript(`
local now = tonumber(ARGV[1])

local wstale = redis.call('HGET', KEYS[1], 'stale_at')
if wstale and tonumber(wstale) <= now then
	redis.call('DEL', KEYS[1])
end
local readers = redis.call('HGETALL', KEYS[2])
for i = 1, #readers, 2 do
	if tonumber(readers[i + 1]) <= now then
		redis.call('HDEL', KEYS[2], readers[i])
	end
end

local held = 0
if ARGV[2] == 'writer' then
	if redis.call('HGET', KEYS[1], 'lock_id') == ARGV[3] then
		held = 1
		redis.call('DEL', KEYS[1])
	end
else
	if redis.call('HDEL', KEYS[2], ARGV[3]) == 1 then
		held = 1
	end
end
return {held, redis.call('HLEN', KEYS[2]), redis.call('EXISTS', KEYS[1])}
`)

// writeBatchScript appends a batch to one unit under the writer lock.
// The generation version and lock ownership are re-verified here, inside
// the same atomic step as the mutation; nothing is written if either
// check fails.
//
// KEYS: version, meta, writer, targets
// ARGV: gen_version, now_ms, lock_id, paths_prefix, first, last, entries_json, sentinel
// Returns {'lock_lost'} or {'ok'}.
var writeBatchScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '1' end
if cur ~= ARGV[1] then
	return {'lock_lost'}
end
local now = tonumber(ARGV[2])
local wid = redis.call('HGET', KEYS[3], 'lock_id')
local wstale = redis.call('HGET', KEYS[3], 'stale_at')
if wid ~= ARGV[3] or not wstale or tonumber(wstale) <= now then
	return {'lock_lost'}
end
local expires = redis.call('HGET', KEYS[2], 'expires_at')
if not expires then
	return {'lock_lost'}
end

if ARGV[5] == '1' then
	local old = redis.call('SMEMBERS', KEYS[4])
	for i = 1, #old do
		if old[i] ~= ARGV[8] then
			redis.call('DEL', ARGV[4] .. old[i])
		end
	end
	redis.call('DEL', KEYS[4])
end

local entries = cjson.decode(ARGV[7])
for i = 1, #entries do
	local e = entries[i]
	redis.call('SADD', KEYS[4], e.target)
	for j = 1, #e.items do
		redis.call('RPUSH', ARGV[4] .. e.target, e.items[j])
	end
	redis.call('PEXPIREAT', ARGV[4] .. e.target, tonumber(expires))
end
if ARGV[6] == '1' then
	redis.call('SADD', KEYS[4], ARGV[8])
end
redis.call('PEXPIREAT', KEYS[4], tonumber(expires))
return {'ok'}
`)

// readTargetsScript pages the target set of a completed unit, verifying
// lock ownership and the done marker of every scanned target.
//
// KEYS: version, writer, readers, targets
// ARGV: gen_version, now_ms, kind, lock_id, cursor, count, sentinel, paths_prefix, done
// Returns {'lock_lost'}, {'not_initialized'}, {'corrupted', target},
// or {'ok', next_cursor, targets}.
var readTargetsScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '1' end
if cur ~= ARGV[1] then
	return {'lock_lost'}
end
local now = tonumber(ARGV[2])
if ARGV[3] == 'writer' then
	local wid = redis.call('HGET', KEYS[2], 'lock_id')
	local wstale = redis.call('HGET', KEYS[2], 'stale_at')
	if wid ~= ARGV[4] or not wstale or tonumber(wstale) <= now then
		return {'lock_lost'}
	end
else
	local rstale = redis.call('HGET', KEYS[3], ARGV[4])
	if not rstale or tonumber(rstale) <= now then
		return {'lock_lost'}
	end
end
if redis.call('SISMEMBER', KEYS[4], ARGV[7]) == 0 then
	return {'not_initialized'}
end
local res = redis.call('SSCAN', KEYS[4], ARGV[5], 'COUNT', ARGV[6])
local targets = {}
for i = 1, #res[2] do
	local m = res[2][i]
	if m ~= ARGV[7] then
		if redis.call('LINDEX', ARGV[8] .. m, -1) ~= ARGV[9] then
			return {'corrupted', m}
		end
		targets[#targets + 1] = m
	end
end
return {'ok', res[1], targets}
`)

// readPathsScript returns one page of a target's path list after the
// same guards as readTargetsScript.
//
// KEYS: version, writer, readers, targets, paths
// ARGV: gen_version, now_ms, kind, lock_id, target, start, stop, sentinel, done
// Returns {'lock_lost'}, {'not_found'}, {'no_paths'}, {'corrupted'},
// or {'ok', total, items}.
var readPathsScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '1' end
if cur ~= ARGV[1] then
	return {'lock_lost'}
end
local now = tonumber(ARGV[2])
if ARGV[3] == 'writer' then
	local wid = redis.call('HGET', KEYS[2], 'lock_id')
	local wstale = redis.call('HGET', KEYS[2], 'stale_at')
	if wid ~= ARGV[4] or not wstale or tonumber(wstale) <= now then
		return {'lock_lost'}
	end
else
	local rstale = redis.call('HGET', KEYS[3], ARGV[4])
	if not rstale or tonumber(rstale) <= now then
		return {'lock_lost'}
	end
end
if redis.call('SISMEMBER', KEYS[4], ARGV[8]) == 0 then
	return {'not_found'}
end
if redis.call('SISMEMBER', KEYS[4], ARGV[5]) == 0 then
	return {'no_paths'}
end
if redis.call('LINDEX', KEYS[5], -1) ~= ARGV[9] then
	return {'corrupted'}
end
local total = redis.call('LLEN', KEYS[5])
local items = redis.call('LRANGE', KEYS[5], tonumber(ARGV[6]), tonumber(ARGV[7]))
return {'ok', total, items}
`)

// bumpVersionScript advances the global version. A missing counter means
// the implicit version 1, so the first bump lands on 2.
//
// KEYS: version
var bumpVersionScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
	v = redis.call('INCR', KEYS[1])
end
return v
`)
