package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"lms/internal/handlers"
	"lms/internal/models"
	"lms/internal/storage"
	"lms/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

func AuthMiddlewareTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.Request.Header.Get("X-Test-UserID")
		if userIDStr == "" {
			// Значение по умолчанию
			c.Set("userID", uint(1))
		} else {
			id, err := strconv.Atoi(userIDStr)
			if err != nil {
				c.Set("userID", uint(1))
			} else {
				c.Set("userID", uint(id))
			}
		}
		c.Next()
	}
}

func setupTestServer(t *testing.T) *httptest.Server {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		if err := godotenv.Load("../.env"); err != nil {
			t.Skip("Нет .env и ENV_CHEK, пропускаем интеграционные тесты")
		}
	}
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("TEST_DB_HOST не задан, пропускаем интеграционные тесты")
	}

	storage.ConnectTestingDatabase()

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
	storage.DB.Exec("TRUNCATE TABLE users, groups, group_students, courses, lessons, events, event_groups, event_courses, event_slots, lesson_schedules RESTART IDENTITY CASCADE;")

	storage.InitRedis()
	storage.RedisClient.FlushDB(storage.RedisClient.Context())

	go ws.HubInstance.Run()

	r := gin.Default()

	apiGroup := r.Group("/api", AuthMiddlewareTest())
	{
		apiGroup.GET("/groups", handlers.GetGroupsHandler)
		apiGroup.GET("/events/calendar", handlers.GetCalendarHandler)
		apiGroup.GET("/events/upcoming", handlers.GetUpcomingEventsHandler)
		apiGroup.GET("/events/:id", handlers.GetEventHandler)
		apiGroup.POST("/events", handlers.CreateEventHandler)
		apiGroup.POST("/events/:id/materialize", handlers.MaterializeEventHandler)
	}

	return httptest.NewServer(r)
}

type eventJSON struct {
	ID           uint      `json:"id"`
	IsVirtual    bool      `json:"is_virtual"`
	Materialized bool      `json:"materialized"`
	Title        string    `json:"title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	GroupIDs     []uint    `json:"group_ids"`
}

func getCalendar(t *testing.T, ts *httptest.Server, userID uint, start, end string) []eventJSON {
	url := fmt.Sprintf("%s/api/events/calendar?start=%s&end=%s", ts.URL, start, end)
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", userID))
	res, err := http.DefaultClient.Do(req)
	assert.NoError(t, err, "Ошибка запроса календаря")
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode, "Календарь вернул не 200")

	var events []eventJSON
	err = json.NewDecoder(res.Body).Decode(&events)
	assert.NoError(t, err, "Ошибка разбора ответа календаря")
	return events
}

func TestCalendarAndMaterializeFlow(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	// 1. Преподаватель, студент и их группа.
	teacher := models.User{Name: "Анна", Surname: "Смирнова", Email: fmt.Sprintf("anna_%d@example.com", time.Now().UnixNano()), PasswordHash: "hashed123", Role: models.RoleTeacher}
	student := models.User{Name: "Иван", Surname: "Иванов", Email: fmt.Sprintf("ivan_%d@example.com", time.Now().UnixNano()), PasswordHash: "hashed456", Role: models.RoleStudent}
	assert.NoError(t, storage.DB.Create(&teacher).Error, "Ошибка создания преподавателя")
	assert.NoError(t, storage.DB.Create(&student).Error, "Ошибка создания студента")

	group := models.Group{Name: "ГР-301", TeacherID: &teacher.ID}
	assert.NoError(t, storage.DB.Create(&group).Error, "Ошибка создания группы")
	assert.NoError(t, storage.DB.Create(&models.GroupStudent{GroupID: group.ID, StudentID: student.ID}).Error, "Ошибка привязки студента")

	// 2. Преподаватель создаёт еженедельный шаблон через API.
	anchor := time.Now().UTC().Truncate(time.Minute).AddDate(0, 0, 1)
	createBody := map[string]interface{}{
		"title":              "Лекция по Go",
		"event_type":         "class",
		"start_time":         anchor.Format(time.RFC3339),
		"end_time":           anchor.Add(90 * time.Minute).Format(time.RFC3339),
		"is_online":          true,
		"recurrence_pattern": models.RecurrenceWeekly,
		"group_ids":          []uint{group.ID},
	}
	raw, _ := json.Marshal(createBody)
	req, _ := http.NewRequest("POST", ts.URL+"/api/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", teacher.ID))
	res, err := http.DefaultClient.Do(req)
	assert.NoError(t, err, "Ошибка запроса создания события")
	defer res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode, "Событие не создано")

	var created eventJSON
	assert.NoError(t, json.NewDecoder(res.Body).Decode(&created), "Ошибка разбора созданного события")
	log.Println("Шаблон создан, ID:", created.ID)

	// 3. Студент запрашивает календарь на четыре недели: шаблон сам в выдачу
	// не попадает, все его вхождения виртуальные.
	start := anchor.AddDate(0, 0, -1).Format("2006-01-02")
	end := anchor.AddDate(0, 0, 27).Format("2006-01-02")
	events := getCalendar(t, ts, student.ID, start, end)
	assert.Equal(t, 4, len(events), "Ожидали четыре вхождения за четыре недели")

	for _, ev := range events {
		assert.True(t, ev.IsVirtual, "Вхождение шаблона должно быть виртуальным")
		assert.Contains(t, ev.GroupIDs, group.ID, "Вхождение без группы студента")
	}
	virtual := events[1]
	assert.NotZero(t, virtual.ID, "У виртуального вхождения нет псевдо-id")

	// 4. Студент материализует виртуальное вхождение.
	matURL := fmt.Sprintf("%s/api/events/%d/materialize", ts.URL, virtual.ID)
	matReq, _ := http.NewRequest("POST", matURL, nil)
	matReq.Header.Set("X-Test-UserID", fmt.Sprintf("%d", student.ID))
	matRes, err := http.DefaultClient.Do(matReq)
	assert.NoError(t, err, "Ошибка запроса материализации")
	defer matRes.Body.Close()
	assert.Equal(t, http.StatusOK, matRes.StatusCode, "Материализация вернула не 200")

	var matBody map[string]interface{}
	assert.NoError(t, json.NewDecoder(matRes.Body).Decode(&matBody), "Ошибка разбора ответа материализации")
	realIDFloat, ok := matBody["real_event_id"].(float64)
	assert.True(t, ok, "В ответе материализации нет real_event_id")
	realID := uint(realIDFloat)
	assert.NotEqual(t, virtual.ID, realID, "Материализация вернула псевдо-id")

	// Повторная материализация того же слота идемпотентна.
	matReq2, _ := http.NewRequest("POST", matURL, nil)
	matReq2.Header.Set("X-Test-UserID", fmt.Sprintf("%d", student.ID))
	matRes2, err := http.DefaultClient.Do(matReq2)
	assert.NoError(t, err, "Ошибка повторной материализации")
	defer matRes2.Body.Close()
	var matBody2 map[string]interface{}
	assert.NoError(t, json.NewDecoder(matRes2.Body).Decode(&matBody2), "Ошибка разбора повторного ответа")
	assert.Equal(t, matBody["real_event_id"], matBody2["real_event_id"], "Повторная материализация дала другой ID")

	// 5. Повторный запрос того же окна: материализация сбрасывает кэш,
	// поэтому вхождений по-прежнему четыре, а материализованный слот стал
	// реальным и вытеснил виртуального двойника.
	after := getCalendar(t, ts, student.ID, start, end)
	assert.Equal(t, 4, len(after), "Материализация изменила число вхождений")

	foundReal := false
	for _, ev := range after {
		if ev.ID == realID {
			foundReal = true
			assert.False(t, ev.IsVirtual, "Материализованное вхождение осталось виртуальным")
			assert.True(t, ev.Materialized, "Материализованное вхождение без флага materialized")
			assert.Equal(t, virtual.StartTime.UTC(), ev.StartTime.UTC(), "Время начала изменилось после материализации")
		}
		assert.NotEqual(t, virtual.ID, ev.ID, "Виртуальный двойник не вытеснен")
	}
	assert.True(t, foundReal, "Материализованное событие не попало в календарь")

	// 6. Одиночное событие по реальному id доступно студенту группы.
	getReq, _ := http.NewRequest("GET", fmt.Sprintf("%s/api/events/%d", ts.URL, realID), nil)
	getReq.Header.Set("X-Test-UserID", fmt.Sprintf("%d", student.ID))
	getRes, err := http.DefaultClient.Do(getReq)
	assert.NoError(t, err, "Ошибка запроса события")
	defer getRes.Body.Close()
	assert.Equal(t, http.StatusOK, getRes.StatusCode, "Событие не найдено по реальному id")
}

func TestLegacyScheduleInCalendar(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	student := models.User{Name: "Пётр", Surname: "Петров", Email: fmt.Sprintf("petr_%d@example.com", time.Now().UnixNano()), PasswordHash: "hashed789", Role: models.RoleStudent}
	assert.NoError(t, storage.DB.Create(&student).Error)

	group := models.Group{Name: "ГР-302"}
	assert.NoError(t, storage.DB.Create(&group).Error)
	assert.NoError(t, storage.DB.Create(&models.GroupStudent{GroupID: group.ID, StudentID: student.ID}).Error)

	course := models.Course{Title: "Алгоритмы"}
	assert.NoError(t, storage.DB.Create(&course).Error)
	lesson := models.Lesson{CourseID: course.ID, Title: "Сортировки", Position: 1}
	assert.NoError(t, storage.DB.Create(&lesson).Error)

	scheduledAt := time.Now().UTC().Truncate(time.Minute).AddDate(0, 0, 2)
	sched := models.LessonSchedule{
		GroupID:     group.ID,
		LessonID:    lesson.ID,
		ScheduledAt: scheduledAt,
		WeekNumber:  1,
		IsActive:    true,
	}
	assert.NoError(t, storage.DB.Create(&sched).Error)

	start := scheduledAt.AddDate(0, 0, -1).Format("2006-01-02")
	end := scheduledAt.AddDate(0, 0, 1).Format("2006-01-02")
	events := getCalendar(t, ts, student.ID, start, end)
	assert.Equal(t, 1, len(events), "Ожидали одно вхождение из старого расписания")
	assert.True(t, events[0].IsVirtual, "Слот старого расписания должен быть виртуальным")
	assert.Contains(t, events[0].Title, lesson.Title, "Заголовок без названия урока")

	// Псевдо-id слота расписания живёт в верхнем диапазоне.
	assert.GreaterOrEqual(t, events[0].ID, uint(2_000_000_000), "Псевдо-id расписания вне своего диапазона")
}
