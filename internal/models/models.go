package models

import (
	"gorm.io/gorm"
)

// Роли пользователей в системе.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleCurator = "curator"
	RoleAdmin   = "admin"
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Surname      string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null;default:student"` // student, teacher, curator, admin
}

type Group struct {
	gorm.Model
	Name      string `gorm:"not null"`
	TeacherID *uint  `gorm:"index"` // преподаватель группы
	CuratorID *uint  `gorm:"index"` // куратор группы
}

// GroupStudent связывает студента с группой.
type GroupStudent struct {
	gorm.Model
	GroupID   uint `gorm:"not null;uniqueIndex:uq_group_student"`
	StudentID uint `gorm:"not null;uniqueIndex:uq_group_student"`
}

type Course struct {
	gorm.Model
	Title       string `gorm:"not null"`
	Description string
}

type Lesson struct {
	gorm.Model
	CourseID uint   `gorm:"index;not null"`
	Title    string `gorm:"not null"`
	Position int    // порядковый номер урока внутри курса
}
