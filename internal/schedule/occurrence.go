package schedule

import (
	"fmt"
	"time"

	"lms/internal/models"
)

// Occurrence — один слот календаря: либо реальная запись из таблицы events,
// либо виртуальный экземпляр, развёрнутый из повторяющегося шаблона или из
// строки старого планировщика. Виртуальные экземпляры нигде не хранятся,
// поэтому связи группа/курс у них нельзя дочитать из базы: список идентификаторов
// копируется в сам Occurrence при создании и читается только через GroupIDs /
// CourseIDs. Поля закрыты намеренно — мимо конструкторов Occurrence не собрать.
type Occurrence struct {
	ID          uint
	TemplateID  uint // шаблон-родитель; 0 у реальных записей и legacy-слотов
	IsVirtual   bool
	Title       string
	Description string
	EventType   string
	StartTime   time.Time
	EndTime     time.Time
	Location    string
	IsOnline    bool
	MeetingURL  string
	CreatedBy   uint

	groupIDs  []uint
	courseIDs []uint
}

// GroupIDs возвращает денормализованный список групп слота.
func (o Occurrence) GroupIDs() []uint {
	return o.groupIDs
}

// CourseIDs возвращает денормализованный список курсов слота.
func (o Occurrence) CourseIDs() []uint {
	return o.courseIDs
}

// Materialized — true, если за слотом уже стоит запись в базе.
func (o Occurrence) Materialized() bool {
	return !o.IsVirtual
}

// NewRealOccurrence оборачивает сохранённое событие. EventGroups/EventCourses
// должны быть предзагружены вызывающей стороной.
func NewRealOccurrence(ev models.Event) Occurrence {
	return Occurrence{
		ID:          ev.ID,
		IsVirtual:   false,
		Title:       ev.Title,
		Description: ev.Description,
		EventType:   ev.EventType,
		StartTime:   ev.StartTime.UTC(),
		EndTime:     ev.EndTime.UTC(),
		Location:    ev.Location,
		IsOnline:    ev.IsOnline,
		MeetingURL:  ev.MeetingURL,
		CreatedBy:   ev.CreatedBy,
		groupIDs:    eventGroupIDs(ev),
		courseIDs:   eventCourseIDs(ev),
	}
}

// NewVirtualOccurrence собирает виртуальный экземпляр шаблона на конкретное
// время. Связи копируются с шаблона здесь и только здесь.
func NewVirtualOccurrence(tpl models.Event, start, end time.Time) Occurrence {
	start = start.UTC()
	return Occurrence{
		ID:          EventPseudoID(tpl.ID, start),
		TemplateID:  tpl.ID,
		IsVirtual:   true,
		Title:       tpl.Title,
		Description: tpl.Description,
		EventType:   tpl.EventType,
		StartTime:   start,
		EndTime:     end.UTC(),
		Location:    tpl.Location,
		IsOnline:    tpl.IsOnline,
		MeetingURL:  tpl.MeetingURL,
		CreatedBy:   tpl.CreatedBy,
		groupIDs:    eventGroupIDs(tpl),
		courseIDs:   eventCourseIDs(tpl),
	}
}

// Длительность занятия по умолчанию для строк старого планировщика: там
// хранится только время начала.
const legacyLessonDuration = 90 * time.Minute

// NewLegacyOccurrence оборачивает строку старого планировщика уроков.
// Group и Lesson должны быть предзагружены.
func NewLegacyOccurrence(s models.LessonSchedule) Occurrence {
	start := s.ScheduledAt.UTC()
	title := fmt.Sprintf("Урок %d", s.LessonID)
	if s.Lesson.ID != 0 {
		title = s.Lesson.Title
	}
	if s.Group.ID != 0 {
		title = s.Group.Name + ": " + title
	}
	return Occurrence{
		ID:          SchedulePseudoID(s.ID),
		IsVirtual:   true,
		Title:       title,
		Description: fmt.Sprintf("Запланированный урок (неделя %d)", s.WeekNumber),
		EventType:   "class",
		StartTime:   start,
		EndTime:     start.Add(legacyLessonDuration),
		IsOnline:    true,
		groupIDs:    []uint{s.GroupID},
	}
}

func eventGroupIDs(ev models.Event) []uint {
	ids := make([]uint, 0, len(ev.EventGroups))
	for _, eg := range ev.EventGroups {
		ids = append(ids, eg.GroupID)
	}
	return ids
}

func eventCourseIDs(ev models.Event) []uint {
	ids := make([]uint, 0, len(ev.EventCourses))
	for _, ec := range ev.EventCourses {
		ids = append(ids, ec.CourseID)
	}
	return ids
}
