package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"lms/internal/models"
	"lms/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Наполняет базу демонстрационными данными: пользователи, группа с курсом,
// повторяющийся шаблон занятия и несколько строк старого планировщика —
// достаточно, чтобы посмотреть развёртку и материализацию вживую.
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		if err := godotenv.Load(); err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupStudent{},
		&models.Course{},
		&models.Lesson{},
		&models.Event{},
		&models.EventGroup{},
		&models.EventCourse{},
		&models.EventSlot{},
		&models.LessonSchedule{},
	); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Ошибка хеширования пароля:", err)
	}

	teacher := models.User{Name: "Анна", Surname: "Петрова", Email: "teacher@lms.local", PasswordHash: string(hash), Role: models.RoleTeacher}
	student := models.User{Name: "Иван", Surname: "Сидоров", Email: "student@lms.local", PasswordHash: string(hash), Role: models.RoleStudent}
	if err := storage.DB.FirstOrCreate(&teacher, models.User{Email: teacher.Email}).Error; err != nil {
		log.Fatal("Ошибка создания преподавателя:", err)
	}
	if err := storage.DB.FirstOrCreate(&student, models.User{Email: student.Email}).Error; err != nil {
		log.Fatal("Ошибка создания студента:", err)
	}

	group := models.Group{Name: "ГР-101", TeacherID: &teacher.ID}
	if err := storage.DB.FirstOrCreate(&group, models.Group{Name: group.Name}).Error; err != nil {
		log.Fatal("Ошибка создания группы:", err)
	}
	storage.DB.FirstOrCreate(&models.GroupStudent{GroupID: group.ID, StudentID: student.ID},
		models.GroupStudent{GroupID: group.ID, StudentID: student.ID})

	course := models.Course{Title: "Основы Go", Description: "Вводный курс"}
	if err := storage.DB.FirstOrCreate(&course, models.Course{Title: course.Title}).Error; err != nil {
		log.Fatal("Ошибка создания курса:", err)
	}

	var lessons []models.Lesson
	for i := 1; i <= 4; i++ {
		lesson := models.Lesson{CourseID: course.ID, Title: fmt.Sprintf("Занятие %d", i), Position: i}
		if err := storage.DB.FirstOrCreate(&lesson, models.Lesson{CourseID: course.ID, Position: i}).Error; err != nil {
			log.Fatal("Ошибка создания урока:", err)
		}
		lessons = append(lessons, lesson)
	}

	// Еженедельный шаблон: следующий понедельник 19:00 UTC, восемь недель.
	anchor := nextMonday(time.Now().UTC()).Add(19 * time.Hour)
	endDate := anchor.AddDate(0, 0, 7*7)
	tpl := models.Event{
		Title:             "Лекция по Go",
		Description:       "Еженедельная лекция группы " + group.Name,
		EventType:         "class",
		StartTime:         anchor,
		EndTime:           anchor.Add(90 * time.Minute),
		IsOnline:          true,
		MeetingURL:        "https://meet.lms.app/" + uuid.NewString(),
		CreatedBy:         teacher.ID,
		TeacherID:         &teacher.ID,
		IsActive:          true,
		IsRecurring:       true,
		RecurrencePattern: models.RecurrenceWeekly,
		RecurrenceEndDate: &endDate,
	}
	if err := storage.DB.FirstOrCreate(&tpl, models.Event{Title: tpl.Title, IsRecurring: true}).Error; err != nil {
		log.Fatal("Ошибка создания шаблона:", err)
	}
	storage.DB.FirstOrCreate(&models.EventGroup{EventID: tpl.ID, GroupID: group.ID},
		models.EventGroup{EventID: tpl.ID, GroupID: group.ID})
	storage.DB.FirstOrCreate(&models.EventCourse{EventID: tpl.ID, CourseID: course.ID},
		models.EventCourse{EventID: tpl.ID, CourseID: course.ID})

	// Строки старого планировщика: те же недели, среда 17:00 UTC.
	for i, lesson := range lessons {
		scheduledAt := anchor.AddDate(0, 0, 2+7*i).Add(-2 * time.Hour)
		sched := models.LessonSchedule{
			GroupID:     group.ID,
			LessonID:    lesson.ID,
			ScheduledAt: scheduledAt,
			WeekNumber:  i + 1,
			IsActive:    true,
		}
		if err := storage.DB.FirstOrCreate(&sched, models.LessonSchedule{GroupID: group.ID, ScheduledAt: scheduledAt}).Error; err != nil {
			log.Fatal("Ошибка создания строки планировщика:", err)
		}
	}

	fmt.Println("Демонстрационные данные созданы.")
}

func nextMonday(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for t.Weekday() != time.Monday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
