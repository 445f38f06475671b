package models

import (
	"time"

	"gorm.io/gorm"
)

// LessonSchedule — строка старого планировщика уроков: одна явная запись
// (группа, урок, время) на каждое запланированное занятие. Таблица доживает
// до полного перевода расписаний на события и для движка календаря доступна
// только на чтение.
type LessonSchedule struct {
	gorm.Model
	GroupID     uint      `gorm:"not null;uniqueIndex:uq_lesson_schedule_group_time"`
	LessonID    uint      `gorm:"not null;index"`
	ScheduledAt time.Time `gorm:"not null;uniqueIndex:uq_lesson_schedule_group_time"`
	WeekNumber  int       `gorm:"not null"`
	IsActive    bool      `gorm:"default:true"`

	Group  Group
	Lesson Lesson
}
