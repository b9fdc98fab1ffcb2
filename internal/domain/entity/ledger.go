// Package entity 定义领域实体
package entity

import (
	"sort"
	"time"
)

// DayLayout 账本日期键格式 (ISO-8601 日历日)
const DayLayout = "2006-01-02"

// DefaultRetentionDays 账本保留窗口
const DefaultRetentionDays = 7

// Ledger 配额账本：日期 -> 当日成功次数
type Ledger map[string]int64

// DayOf 返回时间点在 loc 时区下的日历日
func DayOf(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DayLayout)
}

// ParseDay 解析日期键
func ParseDay(day string) (time.Time, bool) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CutoffDay 返回保留窗口内最早的日期，早于它的条目会被清理
func CutoffDay(today string, retentionDays int) string {
	t, ok := ParseDay(today)
	if !ok {
		return today
	}
	return t.AddDate(0, 0, -retentionDays).Format(DayLayout)
}

// NewLedger 创建空账本
func NewLedger() Ledger {
	return make(Ledger)
}

// Count 返回某日计数，缺失视为 0
func (l Ledger) Count(day string) int64 {
	return l[day]
}

// Increment 当日计数加一并返回新值
func (l Ledger) Increment(day string) int64 {
	l[day]++
	return l[day]
}

// Decrement 当日计数减一，不会低于 0
func (l Ledger) Decrement(day string) int64 {
	if l[day] <= 1 {
		delete(l, day)
		return 0
	}
	l[day]--
	return l[day]
}

// Clone 深拷贝
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Days 按日期升序返回所有键
func (l Ledger) Days() []string {
	days := make([]string, 0, len(l))
	for k := range l {
		days = append(days, k)
	}
	sort.Strings(days)
	return days
}

// Prune 就地移除超出保留窗口、日期无法解析或计数为负的条目，返回被移除的键。
// 对已清理过的账本再次调用不会产生变化。
func (l Ledger) Prune(today string, retentionDays int) []string {
	return l.PruneBefore(CutoffDay(today, retentionDays))
}

// PruneBefore 移除早于 cutoff 的条目以及无效条目
func (l Ledger) PruneBefore(cutoff string) []string {
	var removed []string
	for day, count := range l {
		if _, ok := ParseDay(day); !ok || count < 0 || day < cutoff {
			removed = append(removed, day)
		}
	}
	for _, day := range removed {
		delete(l, day)
	}
	sort.Strings(removed)
	return removed
}

// LedgerRow 行式存储中的一行：A 列日期，B 列计数
type LedgerRow struct {
	Ref   int64
	Day   string
	Count int64
}
