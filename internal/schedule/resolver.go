package schedule

import (
	"sort"
	"time"
)

// slotKey — сигнатура слота: группа плюс начало, округлённое до минуты.
// Два источника, назвавшие один слот с разницей в секунды, схлопываются
// в одно вхождение.
type slotKey struct {
	GroupID   uint
	StartUnix int64
}

func signatureTime(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}

// Merge сводит вхождения из двух источников в один список без дублей слотов.
// primary — события (реальные записи и развёрнутые шаблоны), он авторитетен;
// legacy — строки старого планировщика, они добавляются только в слоты,
// которые события не заняли. Внутри primary реальная запись вытесняет
// виртуальную с той же сигнатурой: материализованный слот уже не виртуален.
//
// Вхождение с несколькими группами даёт по сигнатуре на группу и
// отбрасывается, если занята хотя бы одна из них.
func Merge(primary, legacy []Occurrence) []Occurrence {
	seen := make(map[slotKey]bool)
	out := make([]Occurrence, 0, len(primary)+len(legacy))

	take := func(o Occurrence) {
		keys := occurrenceKeys(o)
		for _, k := range keys {
			if seen[k] {
				return
			}
		}
		for _, k := range keys {
			seen[k] = true
		}
		out = append(out, o)
	}

	for _, o := range primary {
		if !o.IsVirtual {
			take(o)
		}
	}
	for _, o := range primary {
		if o.IsVirtual {
			take(o)
		}
	}
	for _, o := range legacy {
		take(o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func occurrenceKeys(o Occurrence) []slotKey {
	start := signatureTime(o.StartTime)
	groups := o.GroupIDs()
	keys := make([]slotKey, 0, len(groups))
	for _, gid := range groups {
		keys = append(keys, slotKey{GroupID: gid, StartUnix: start})
	}
	return keys
}
