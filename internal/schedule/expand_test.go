package schedule

import (
	"testing"
	"time"

	"lms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate(id uint, pattern string, start time.Time, duration time.Duration, groupIDs ...uint) models.Event {
	ev := models.Event{
		Title:             "Лекция",
		EventType:         "class",
		StartTime:         start,
		EndTime:           start.Add(duration),
		IsOnline:          true,
		CreatedBy:         1,
		IsActive:          true,
		IsRecurring:       pattern != models.RecurrenceNone,
		RecurrencePattern: pattern,
	}
	ev.ID = id
	for _, gid := range groupIDs {
		ev.EventGroups = append(ev.EventGroups, models.EventGroup{EventID: id, GroupID: gid})
	}
	return ev
}

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestExpandWeeklyWithEndDate(t *testing.T) {
	// Понедельник 5 января 2026, еженедельно до 26 января включительно.
	tpl := testTemplate(7, models.RecurrenceWeekly, date(2026, time.January, 5, 19, 0), 90*time.Minute, 10)
	end := date(2026, time.January, 26, 0, 0)
	tpl.RecurrenceEndDate = &end

	occs := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.February, 1, 23, 59))
	require.Len(t, occs, 4)

	wantDays := []int{5, 12, 19, 26}
	seenIDs := make(map[uint]bool)
	for i, occ := range occs {
		assert.True(t, occ.IsVirtual)
		assert.Equal(t, wantDays[i], occ.StartTime.Day())
		assert.Equal(t, 19, occ.StartTime.Hour())
		assert.Equal(t, []uint{10}, occ.GroupIDs())
		assert.False(t, seenIDs[occ.ID], "псевдо-id должны быть разными")
		seenIDs[occ.ID] = true
	}
}

func TestExpandSortedAscending(t *testing.T) {
	tpl := testTemplate(3, models.RecurrenceDaily, date(2026, time.March, 1, 9, 0), time.Hour, 1)
	occs := Expand(tpl, date(2026, time.March, 1, 0, 0), date(2026, time.March, 31, 23, 59))
	require.NotEmpty(t, occs)
	for i := 1; i < len(occs); i++ {
		assert.True(t, occs[i-1].StartTime.Before(occs[i].StartTime))
	}
}

func TestExpandMonotonicUnderWidening(t *testing.T) {
	tpl := testTemplate(11, models.RecurrenceBiweekly, date(2026, time.January, 2, 12, 0), time.Hour, 4)

	narrow := Expand(tpl, date(2026, time.February, 1, 0, 0), date(2026, time.February, 28, 23, 59))
	wide := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.April, 30, 23, 59))

	wideIDs := make(map[uint]bool, len(wide))
	for _, occ := range wide {
		wideIDs[occ.ID] = true
	}
	require.NotEmpty(t, narrow)
	for _, occ := range narrow {
		assert.True(t, wideIDs[occ.ID], "вхождение узкого окна обязано быть и в широком")
	}
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	// Якорь 31 января: февраль зажимается к 28-му, март возвращается к 31-му,
	// апрель — к 30-му. Конец выводится из начала, длительность не плывёт.
	tpl := testTemplate(5, models.RecurrenceMonthly, date(2026, time.January, 31, 10, 0), 2*time.Hour, 2)

	occs := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.April, 30, 23, 59))
	require.Len(t, occs, 4)

	wantStarts := []time.Time{
		date(2026, time.January, 31, 10, 0),
		date(2026, time.February, 28, 10, 0),
		date(2026, time.March, 31, 10, 0),
		date(2026, time.April, 30, 10, 0),
	}
	for i, occ := range occs {
		assert.Equal(t, wantStarts[i], occ.StartTime)
		assert.Equal(t, 2*time.Hour, occ.EndTime.Sub(occ.StartTime))
	}
}

func TestExpandMonthlyLeapFebruary(t *testing.T) {
	tpl := testTemplate(6, models.RecurrenceMonthly, date(2028, time.January, 31, 8, 0), time.Hour, 2)
	occs := Expand(tpl, date(2028, time.February, 1, 0, 0), date(2028, time.February, 29, 23, 59))
	require.Len(t, occs, 1)
	assert.Equal(t, date(2028, time.February, 29, 8, 0), occs[0].StartTime)
}

func TestExpandNeverPassesRecurrenceEndDate(t *testing.T) {
	tpl := testTemplate(9, models.RecurrenceDaily, date(2026, time.May, 1, 15, 0), time.Hour, 3)
	end := date(2026, time.May, 10, 0, 0)
	tpl.RecurrenceEndDate = &end

	occs := Expand(tpl, date(2026, time.April, 1, 0, 0), date(2026, time.June, 30, 23, 59))
	require.Len(t, occs, 10)
	for _, occ := range occs {
		assert.False(t, startOfDay(occ.StartTime).After(end))
	}
}

func TestExpandEndDateBeforeAnchorEmitsNothing(t *testing.T) {
	// Дата окончания ограничивает и якорное вхождение: битый шаблон с
	// окончанием раньше первого занятия молча не разворачивается.
	tpl := testTemplate(21, models.RecurrenceWeekly, date(2026, time.June, 1, 10, 0), time.Hour, 5)
	end := date(2026, time.May, 1, 0, 0)
	tpl.RecurrenceEndDate = &end

	occs := Expand(tpl, date(2026, time.May, 1, 0, 0), date(2026, time.July, 1, 23, 59))
	assert.Empty(t, occs)
}

func TestExpandUnknownPatternEmitsAnchorOnly(t *testing.T) {
	tpl := testTemplate(4, "fortnightly", date(2026, time.January, 5, 19, 0), time.Hour, 1)

	occs := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.December, 31, 23, 59))
	require.Len(t, occs, 1)
	assert.Equal(t, date(2026, time.January, 5, 19, 0), occs[0].StartTime)

	// Якорь вне окна — пусто, без ошибок.
	occs = Expand(tpl, date(2026, time.February, 1, 0, 0), date(2026, time.December, 31, 23, 59))
	assert.Empty(t, occs)
}

func TestExpandWindowBeforeAnchor(t *testing.T) {
	tpl := testTemplate(8, models.RecurrenceWeekly, date(2026, time.June, 1, 10, 0), time.Hour, 1)
	occs := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.January, 31, 23, 59))
	assert.Empty(t, occs)
}

func TestExpandInvalidWindow(t *testing.T) {
	tpl := testTemplate(8, models.RecurrenceWeekly, date(2026, time.June, 1, 10, 0), time.Hour, 1)
	assert.Empty(t, Expand(tpl, date(2026, time.March, 1, 0, 0), date(2026, time.January, 1, 0, 0)))
	assert.Empty(t, Expand(tpl, time.Time{}, date(2026, time.January, 1, 0, 0)))
}

func TestExpandAlwaysPopulatesCarrier(t *testing.T) {
	// Связи группа/курс обязаны копироваться на каждое виртуальное вхождение:
	// дочитать их позже неоткуда, за вхождением нет строки в базе.
	tpl := testTemplate(12, models.RecurrenceWeekly, date(2026, time.January, 5, 19, 0), time.Hour, 10, 20)
	tpl.EventCourses = []models.EventCourse{{EventID: 12, CourseID: 33}}

	occs := Expand(tpl, date(2026, time.January, 1, 0, 0), date(2026, time.March, 1, 23, 59))
	require.NotEmpty(t, occs)
	for _, occ := range occs {
		assert.Equal(t, []uint{10, 20}, occ.GroupIDs())
		assert.Equal(t, []uint{33}, occ.CourseIDs())
	}
}

func TestNormalizeWindowConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	from := time.Date(2026, time.January, 1, 5, 0, 0, 0, loc)
	to := time.Date(2026, time.January, 2, 5, 0, 0, 0, loc)

	nf, nt, err := NormalizeWindow(from, to)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, nf.Location())
	assert.Equal(t, date(2026, time.January, 1, 0, 0), nf)
	assert.Equal(t, date(2026, time.January, 2, 0, 0), nt)

	_, _, err = NormalizeWindow(to, from)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
