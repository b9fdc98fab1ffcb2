package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// reserveScript 清理过期或损坏的条目，再按上限条件自增。
// KEYS[1] 账本键；ARGV[1] 日期，ARGV[2] 上限，ARGV[3] 保留窗口起始日期。
// 返回 {granted, count}。
var reserveScript = redis.NewScript(`
local function load()
  local raw = redis.call('GET', KEYS[1])
  if not raw then return {} end
  local ok, decoded = pcall(cjson.decode, raw)
  if ok and type(decoded) == 'table' then return decoded end
  return {}
end

local function save(tbl)
  if next(tbl) == nil then
    redis.call('SET', KEYS[1], '{}')
  else
    redis.call('SET', KEYS[1], cjson.encode(tbl))
  end
end

local ledger = load()
local kept = {}
local changed = false
for day, count in pairs(ledger) do
  if type(day) == 'string' and string.match(day, '^%d%d%d%d%-%d%d%-%d%d$')
    and type(count) == 'number' and count >= 0 and day >= ARGV[3] then
    kept[day] = count
  else
    changed = true
  end
end

local current = kept[ARGV[1]] or 0
if current >= tonumber(ARGV[2]) then
  if changed then save(kept) end
  return {0, current}
end

kept[ARGV[1]] = current + 1
save(kept)
return {1, current + 1}
`)

// releaseScript 归还一次预占。KEYS[1] 账本键；ARGV[1] 日期。返回归还后的计数。
var releaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local ok, ledger = pcall(cjson.decode, raw)
if not ok or type(ledger) ~= 'table' then return 0 end

local current = ledger[ARGV[1]]
if type(current) ~= 'number' or current <= 1 then
  ledger[ARGV[1]] = nil
  current = 0
else
  current = current - 1
  ledger[ARGV[1]] = current
end

if next(ledger) == nil then
  redis.call('SET', KEYS[1], '{}')
else
  redis.call('SET', KEYS[1], cjson.encode(ledger))
end
return current
`)

// LedgerRepository 账本以 JSON 文档保存在单个 Redis 键下
type LedgerRepository struct {
	client *Client
	key    string
}

// NewLedgerRepository 创建 Redis 账本仓储
func NewLedgerRepository(client *Client, key string) *LedgerRepository {
	return &LedgerRepository{client: client, key: key}
}

// Get 读取账本文档
func (r *LedgerRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return r.client.Get(ctx, key)
}

// Put 覆盖写入账本文档
func (r *LedgerRepository) Put(ctx context.Context, key string, doc []byte) error {
	return r.client.Set(ctx, key, doc, 0)
}

// ReserveOrReject 在 Lua 脚本内完成清理、检查与自增
func (r *LedgerRepository) ReserveOrReject(ctx context.Context, day string, limit int64, cutoff string) (bool, int64, error) {
	ctx, span := tracer.Start(ctx, "redis.ledger.Reserve",
		trace.WithAttributes(
			attribute.String("ledger.key", r.key),
			attribute.String("ledger.day", day),
			attribute.Int64("ledger.limit", limit),
		))
	defer span.End()

	res, err := reserveScript.Run(ctx, r.client.rdb, []string{r.key}, day, limit, cutoff).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, 0, fmt.Errorf("run reserve script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected reserve script result: %v", res)
	}

	granted := res[0] == 1
	span.SetAttributes(attribute.Bool("ledger.granted", granted), attribute.Int64("ledger.count", res[1]))
	return granted, res[1], nil
}

// Release 归还一次预占
func (r *LedgerRepository) Release(ctx context.Context, day string) error {
	ctx, span := tracer.Start(ctx, "redis.ledger.Release",
		trace.WithAttributes(attribute.String("ledger.key", r.key), attribute.String("ledger.day", day)))
	defer span.End()

	if err := releaseScript.Run(ctx, r.client.rdb, []string{r.key}, day).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("run release script: %w", err)
	}
	return nil
}
