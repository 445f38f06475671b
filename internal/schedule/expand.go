package schedule

import (
	"errors"
	"time"

	"lms/internal/models"
)

// ErrInvalidWindow возвращается, когда границы окна не заданы или перепутаны.
var ErrInvalidWindow = errors.New("некорректное окно запроса")

// NormalizeWindow приводит границы окна к UTC на входе в движок. Вся
// арифметика повторений считается в одной зоне; смешение зон на входе —
// ошибка вызывающей стороны, а не повод тихо сдвинуть расписание.
func NormalizeWindow(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return time.Time{}, time.Time{}, ErrInvalidWindow
	}
	return from.UTC(), to.UTC(), nil
}

// Expand разворачивает шаблон в отсортированный по началу список виртуальных
// вхождений, попадающих в закрытое окно [from, to]. Итерация идёт от якорного
// начала шаблона, поэтому псевдо-id одного и того же логического вхождения
// совпадают между вызовами с разными окнами.
//
// Неизвестный шаблон повторения не ошибка: шаблоны заполняются администраторами,
// и одна битая запись не должна ронять общий календарь. В этом случае (как и
// для "none") выдаётся не больше одного вхождения — якорное, если оно в окне.
func Expand(tpl models.Event, from, to time.Time) []Occurrence {
	from, to, err := NormalizeWindow(from, to)
	if err != nil {
		return nil
	}

	start := tpl.StartTime.UTC()
	duration := tpl.EndTime.Sub(tpl.StartTime)
	// Месячный шаг всегда целится в день якоря: после февральского зажима
	// к 28-му марту положено вернуться на 31-е.
	anchorDay := start.Day()

	var out []Occurrence
	for !start.After(to) {
		// Дата окончания проверяется до выдачи: она ограничивает и якорь.
		// Шаблон с датой окончания раньше якоря не выдаёт ничего.
		if end := tpl.RecurrenceEndDate; end != nil && startOfDay(start).After(startOfDay(end.UTC())) {
			break
		}

		if !start.Before(from) {
			// Конец выводится из начала, отдельно не зажимается — длительность
			// вхождения не плывёт в коротких месяцах.
			out = append(out, NewVirtualOccurrence(tpl, start, start.Add(duration)))
		}

		next, ok := nextStart(start, tpl.RecurrencePattern, anchorDay)
		if !ok {
			break
		}
		start = next
	}
	return out
}

// nextStart делает один шаг повторения. ok=false — шаблон дальше не
// разворачивается (разовое событие или неопознанный паттерн).
func nextStart(cur time.Time, pattern string, anchorDay int) (time.Time, bool) {
	switch pattern {
	case models.RecurrenceDaily:
		return cur.AddDate(0, 0, 1), true
	case models.RecurrenceWeekly:
		return cur.AddDate(0, 0, 7), true
	case models.RecurrenceBiweekly:
		return cur.AddDate(0, 0, 14), true
	case models.RecurrenceMonthly:
		year, month := cur.Year(), cur.Month()
		if month == time.December {
			year++
			month = time.January
		} else {
			month++
		}
		day := anchorDay
		if last := daysInMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day, cur.Hour(), cur.Minute(), cur.Second(), cur.Nanosecond(), cur.Location()), true
	default:
		return time.Time{}, false
	}
}

func daysInMonth(year int, month time.Month) int {
	// Нулевой день следующего месяца — последний день текущего.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
