package schedule

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"lms/internal/models"
)

// ErrOccurrenceNotFound — по идентификатору не нашлось ни записи в базе,
// ни виртуального слота. Вызывающая сторона может повторить запрос с более
// широким окном, автоматических повторов нет.
var ErrOccurrenceNotFound = errors.New("слот календаря не найден")

// Окно поиска шаблонного слота при материализации. Шаблонный псевдо-id не
// разбирается обратно, поэтому слот ищется повторной развёрткой всех активных
// шаблонов; окно ограничивает перебор.
const (
	materializeLookBack  = 90 * 24 * time.Hour
	materializeLookAhead = 180 * 24 * time.Hour
)

// Materialize превращает виртуальный слот в сохранённое событие ровно один
// раз. Идемпотентна: повторный вызов с тем же идентификатором, как и вызов с
// id уже существующей записи, возвращает ту же запись. Гонка двух конкурентных
// вызовов разрешается уникальным индексом event_slots: проигравший вставку
// перечитывает запись победителя.
func Materialize(db *gorm.DB, occurrenceID uint, actingUserID uint) (*models.Event, error) {
	// 1. Уже сохранённая запись — вернуть как есть.
	var existing models.Event
	err := db.First(&existing, occurrenceID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. Legacy-диапазон разбирается обратно — строка планировщика читается напрямую.
	if IsSchedulePseudoID(occurrenceID) {
		return materializeLegacySlot(db, ScheduleIDFromPseudo(occurrenceID), actingUserID)
	}

	// 3. Шаблонный слот ищется повторной развёрткой.
	return materializeTemplateSlot(db, occurrenceID, actingUserID)
}

func materializeLegacySlot(db *gorm.DB, scheduleID uint, actingUserID uint) (*models.Event, error) {
	var sched models.LessonSchedule
	err := db.Preload("Group").Preload("Lesson").First(&sched, scheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOccurrenceNotFound
	}
	if err != nil {
		return nil, err
	}

	// Слот могли материализовать раньше (в том числе из шаблона) — сигнатура решает.
	if winner, err := slotEvent(db, sched.GroupID, sched.ScheduledAt); err != nil {
		return nil, err
	} else if winner != nil {
		return winner, nil
	}

	occ := NewLegacyOccurrence(sched)
	ev := models.Event{
		Title:       occ.Title,
		Description: occ.Description,
		EventType:   occ.EventType,
		StartTime:   occ.StartTime,
		EndTime:     occ.EndTime,
		IsOnline:    true,
		CreatedBy:   actingUserID,
		IsActive:    true,
	}
	if ev.CreatedBy == 0 && sched.Group.TeacherID != nil {
		ev.CreatedBy = *sched.Group.TeacherID
	}
	return createMaterialized(db, ev, occ.GroupIDs(), nil)
}

func materializeTemplateSlot(db *gorm.DB, pseudoID uint, actingUserID uint) (*models.Event, error) {
	var templates []models.Event
	err := db.Where("is_recurring = ? AND is_active = ?", true, true).
		Preload("EventGroups").
		Preload("EventCourses").
		Find(&templates).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	from, to := now.Add(-materializeLookBack), now.Add(materializeLookAhead)

	for _, tpl := range templates {
		for _, occ := range Expand(tpl, from, to) {
			if occ.ID != pseudoID {
				continue
			}

			for _, gid := range occ.GroupIDs() {
				if winner, err := slotEvent(db, gid, occ.StartTime); err != nil {
					return nil, err
				} else if winner != nil {
					return winner, nil
				}
			}

			createdBy := actingUserID
			if createdBy == 0 {
				createdBy = tpl.CreatedBy
			}
			ev := models.Event{
				Title:       tpl.Title,
				Description: tpl.Description,
				EventType:   tpl.EventType,
				StartTime:   occ.StartTime,
				EndTime:     occ.EndTime,
				Location:    tpl.Location,
				IsOnline:    tpl.IsOnline,
				MeetingURL:  tpl.MeetingURL,
				CreatedBy:   createdBy,
				TeacherID:   tpl.TeacherID,
				IsActive:    true,
			}
			return createMaterialized(db, ev, occ.GroupIDs(), occ.CourseIDs())
		}
	}
	return nil, ErrOccurrenceNotFound
}

// createMaterialized сохраняет событие вместе со связями и строками слотов
// одной транзакцией. Дубликат слота — проигранная гонка, не ошибка: наружу
// уходит запись победителя.
func createMaterialized(db *gorm.DB, ev models.Event, groupIDs, courseIDs []uint) (*models.Event, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		for _, gid := range groupIDs {
			if err := tx.Create(&models.EventGroup{EventID: ev.ID, GroupID: gid}).Error; err != nil {
				return err
			}
			slot := models.EventSlot{
				EventID:  ev.ID,
				GroupID:  gid,
				StartsAt: ev.StartTime.UTC().Truncate(time.Minute),
			}
			if err := tx.Create(&slot).Error; err != nil {
				return err
			}
		}
		for _, cid := range courseIDs {
			if err := tx.Create(&models.EventCourse{EventID: ev.ID, CourseID: cid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return &ev, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}

	// Конкурент успел первым — перечитываем его запись по сигнатуре.
	for _, gid := range groupIDs {
		winner, ferr := slotEvent(db, gid, ev.StartTime)
		if ferr != nil {
			return nil, ferr
		}
		if winner != nil {
			return winner, nil
		}
	}
	return nil, err
}

// slotEvent возвращает уже материализованное событие слота (группа, минута
// начала) либо nil.
func slotEvent(db *gorm.DB, groupID uint, start time.Time) (*models.Event, error) {
	var slot models.EventSlot
	err := db.Where("group_id = ? AND starts_at = ?", groupID, start.UTC().Truncate(time.Minute)).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev models.Event
	if err := db.First(&ev, slot.EventID).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}
