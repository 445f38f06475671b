package models

import (
	"time"

	"gorm.io/gorm"
)

// Шаблоны повторения событий.
const (
	RecurrenceNone     = "none"
	RecurrenceDaily    = "daily"
	RecurrenceWeekly   = "weekly"
	RecurrenceBiweekly = "biweekly"
	RecurrenceMonthly  = "monthly"
)

// Event — запись календаря. Одна и та же таблица хранит и разовые события,
// и шаблоны повторяющихся событий (IsRecurring=true): виртуальные экземпляры
// шаблона разворачиваются на лету и в базе не хранятся.
type Event struct {
	gorm.Model
	Title             string    `gorm:"not null"`
	Description       string    `gorm:"type:text"`
	EventType         string    `gorm:"not null;default:class"` // class, webinar, exam, ...
	StartTime         time.Time `gorm:"index;not null"`         // якорное начало (для шаблона — первое вхождение)
	EndTime           time.Time `gorm:"not null"`
	Location          string
	IsOnline          bool `gorm:"default:true"`
	MeetingURL        string
	CreatedBy         uint  `gorm:"not null"`
	TeacherID         *uint `gorm:"index"`
	IsActive          bool  `gorm:"default:true"`
	IsRecurring       bool  `gorm:"default:false"`
	RecurrencePattern string
	RecurrenceEndDate *time.Time `gorm:"type:date"` // последняя допустимая дата вхождения (включительно)
	MaxParticipants   int

	EventGroups  []EventGroup  `gorm:"foreignKey:EventID"`
	EventCourses []EventCourse `gorm:"foreignKey:EventID"`
}

// EventGroup связывает событие с группой.
type EventGroup struct {
	gorm.Model
	EventID uint `gorm:"not null;uniqueIndex:uq_event_group"`
	GroupID uint `gorm:"not null;uniqueIndex:uq_event_group"`
	Group   Group
}

// EventCourse связывает событие с курсом.
type EventCourse struct {
	gorm.Model
	EventID  uint `gorm:"not null;uniqueIndex:uq_event_course"`
	CourseID uint `gorm:"not null;uniqueIndex:uq_event_course"`
	Course   Course
}

// EventSlot фиксирует занятый слот календаря (группа + начало, округлённое
// до минуты). Уникальный индекс по паре — защита от двойной материализации
// одного слота конкурентными запросами: проигравший вставку перечитывает
// запись победителя.
type EventSlot struct {
	gorm.Model
	EventID  uint      `gorm:"not null;index"`
	GroupID  uint      `gorm:"not null;uniqueIndex:uq_event_slot"`
	StartsAt time.Time `gorm:"not null;uniqueIndex:uq_event_slot"`
}
