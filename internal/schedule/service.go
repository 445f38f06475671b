package schedule

import (
	"time"

	"gorm.io/gorm"

	"lms/internal/models"
)

// WindowQuery — параметры публичной операции "какие слоты календаря есть в
// окне". Фильтры по группам и курсам объединяются через ИЛИ; пустые оба —
// пустой ответ.
type WindowQuery struct {
	From      time.Time
	To        time.Time
	GroupIDs  []uint
	CourseIDs []uint
}

// QueryWindow собирает все вхождения окна: разовые события, развёрнутые
// повторяющиеся шаблоны и строки старого планировщика, затем убирает дубли
// слотов. Сами запросы к базе — единственный ввод-вывод; развёртка и слияние
// чистые и считаются на уже загруженных данных.
func QueryWindow(db *gorm.DB, q WindowQuery) ([]Occurrence, error) {
	from, to, err := NormalizeWindow(q.From, q.To)
	if err != nil {
		return nil, err
	}
	if len(q.GroupIDs) == 0 && len(q.CourseIDs) == 0 {
		return []Occurrence{}, nil
	}

	// 1. Разовые события окна.
	oneOff, err := queryEvents(db, q, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("events.is_recurring = ?", false).
			Where("events.start_time BETWEEN ? AND ?", from, to)
	})
	if err != nil {
		return nil, err
	}

	// 2. Шаблоны, чья серия может пересекать окно.
	templates, err := queryEvents(db, q, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("events.is_recurring = ?", true).
			Where("events.start_time <= ?", to).
			Where("events.recurrence_end_date IS NULL OR events.recurrence_end_date >= ?", startOfDay(from))
	})
	if err != nil {
		return nil, err
	}

	primary := make([]Occurrence, 0, len(oneOff))
	for _, ev := range oneOff {
		primary = append(primary, NewRealOccurrence(ev))
	}
	for _, tpl := range templates {
		primary = append(primary, Expand(tpl, from, to)...)
	}

	legacy, err := queryLegacySlots(db, q.GroupIDs, from, to)
	if err != nil {
		return nil, err
	}

	return Merge(primary, legacy), nil
}

// queryEvents загружает активные события по фильтру групп/курсов вместе со
// связями — дальше по коду связи у виртуальных копий дочитать уже негде.
func queryEvents(db *gorm.DB, q WindowQuery, scope func(*gorm.DB) *gorm.DB) ([]models.Event, error) {
	tx := db.Model(&models.Event{}).
		Joins("LEFT JOIN event_groups ON event_groups.event_id = events.id AND event_groups.deleted_at IS NULL").
		Joins("LEFT JOIN event_courses ON event_courses.event_id = events.id AND event_courses.deleted_at IS NULL").
		Where("events.is_active = ?", true)

	switch {
	case len(q.GroupIDs) > 0 && len(q.CourseIDs) > 0:
		tx = tx.Where("event_groups.group_id IN ? OR event_courses.course_id IN ?", q.GroupIDs, q.CourseIDs)
	case len(q.GroupIDs) > 0:
		tx = tx.Where("event_groups.group_id IN ?", q.GroupIDs)
	default:
		tx = tx.Where("event_courses.course_id IN ?", q.CourseIDs)
	}

	var events []models.Event
	err := scope(tx).
		Distinct("events.*").
		Preload("EventGroups").
		Preload("EventCourses").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func queryLegacySlots(db *gorm.DB, groupIDs []uint, from, to time.Time) ([]Occurrence, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var slots []models.LessonSchedule
	err := db.Where("group_id IN ?", groupIDs).
		Where("is_active = ?", true).
		Where("scheduled_at BETWEEN ? AND ?", from, to).
		Preload("Group").
		Preload("Lesson").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	out := make([]Occurrence, 0, len(slots))
	for _, s := range slots {
		out = append(out, NewLegacyOccurrence(s))
	}
	return out, nil
}
