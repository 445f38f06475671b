package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lms/internal/models"
	"lms/internal/response"
	"lms/internal/schedule"
	"lms/internal/storage"
	"lms/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventResponse — вхождение календаря в ответах API. Виртуальные слоты несут
// псевдо-id, который позже можно передать в materialize.
type EventResponse struct {
	ID           uint      `json:"id"`
	IsVirtual    bool      `json:"is_virtual"`
	Materialized bool      `json:"materialized"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	EventType    string    `json:"event_type"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Location     string    `json:"location,omitempty"`
	IsOnline     bool      `json:"is_online"`
	MeetingURL   string    `json:"meeting_url,omitempty"`
	CreatedBy    uint      `json:"created_by"`
	GroupIDs     []uint    `json:"group_ids"`
	CourseIDs    []uint    `json:"course_ids,omitempty"`
}

func occurrenceResponse(o schedule.Occurrence) EventResponse {
	return EventResponse{
		ID:           o.ID,
		IsVirtual:    o.IsVirtual,
		Materialized: o.Materialized(),
		Title:        o.Title,
		Description:  o.Description,
		EventType:    o.EventType,
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		Location:     o.Location,
		IsOnline:     o.IsOnline,
		MeetingURL:   o.MeetingURL,
		CreatedBy:    o.CreatedBy,
		GroupIDs:     o.GroupIDs(),
		CourseIDs:    o.CourseIDs(),
	}
}

// invalidateCalendarCache сбрасывает кэшированные окна календаря после
// мутаций: созданное или материализованное событие должно попасть в повторный
// запрос того же окна сразу, а не после истечения TTL.
func invalidateCalendarCache() {
	keys, err := storage.RedisClient.Keys(ctx, "calendar_*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	storage.RedisClient.Del(ctx, keys...)
}

// parseWindowParam принимает дату (YYYY-MM-DD) или момент в RFC3339.
// Для даты endOfDay=true разворачивает границу в конец суток — окно закрытое.
func parseWindowParam(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t.UTC(), nil
}

// GetCalendarHandler возвращает вхождения календаря в окне
// @Summary		Календарь пользователя
// @Description	Возвращает все слоты календаря в окне [start, end]: сохранённые события и виртуальные вхождения повторяющихся шаблонов, без дублей. Результат кэшируется в Redis
// @Tags			events
// @Accept			json
// @Produce		json
// @Param			start	query		string	true	"Начало окна (YYYY-MM-DD или RFC3339)"
// @Param			end		query		string	true	"Конец окна, включительно (YYYY-MM-DD или RFC3339)"
// @Param			group_id	query	int		false	"Ограничить одной группой"
// @Param			course_id	query	int		false	"Дополнительно включить события курса"
// @Security		BearerAuth
// @Success		200	{array}		EventResponse	"Слоты календаря по возрастанию времени начала"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, INVALID_WINDOW)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/events/calendar [get]
func GetCalendarHandler(c *gin.Context) {
	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr == "" || endStr == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Необходимо указать start и end",
		})
		return
	}

	from, err := parseWindowParam(startStr, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_WINDOW",
			Message: "Неверный формат start",
			Details: err.Error(),
		})
		return
	}
	to, err := parseWindowParam(endStr, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_WINDOW",
			Message: "Неверный формат end",
			Details: err.Error(),
		})
		return
	}

	userID := c.GetUint("userID")
	cacheKey := fmt.Sprintf("calendar_%d_%s_%s_%s_%s", userID, startStr, endStr, c.Query("group_id"), c.Query("course_id"))

	// Проверка кэша
	cached, err := storage.RedisClient.Get(ctx, cacheKey).Result()
	if err == nil && cached != "" {
		var items []EventResponse
		if err := json.Unmarshal([]byte(cached), &items); err == nil {
			c.JSON(http.StatusOK, items)
			return
		}
	}

	groupIDs, err := userGroupIDs(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки групп пользователя",
			Details: err.Error(),
		})
		return
	}

	// Опциональное сужение до одной группы — из числа доступных пользователю.
	if gidStr := c.Query("group_id"); gidStr != "" {
		gid, convErr := strconv.Atoi(gidStr)
		if convErr != nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Неверный идентификатор группы",
			})
			return
		}
		filtered := groupIDs[:0]
		for _, id := range groupIDs {
			if id == uint(gid) {
				filtered = append(filtered, id)
			}
		}
		groupIDs = filtered
	}

	// Опциональное расширение фильтра курсом: события курса видны и без
	// привязки к группам пользователя.
	var courseIDs []uint
	if cidStr := c.Query("course_id"); cidStr != "" {
		cid, convErr := strconv.Atoi(cidStr)
		if convErr != nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Неверный идентификатор курса",
			})
			return
		}
		courseIDs = []uint{uint(cid)}
	}

	occurrences, err := schedule.QueryWindow(storage.DB, schedule.WindowQuery{
		From:      from,
		To:        to,
		GroupIDs:  groupIDs,
		CourseIDs: courseIDs,
	})
	if errors.Is(err, schedule.ErrInvalidWindow) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_WINDOW",
			Message: "Начало окна позже его конца",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки календаря",
			Details: err.Error(),
		})
		return
	}

	items := make([]EventResponse, 0, len(occurrences))
	for _, o := range occurrences {
		items = append(items, occurrenceResponse(o))
	}

	// Кэширование результата на 5 минут
	if data, err := json.Marshal(items); err == nil {
		storage.RedisClient.Set(ctx, cacheKey, string(data), 5*time.Minute)
	}

	c.JSON(http.StatusOK, items)
}

// GetUpcomingEventsHandler возвращает ближайшие вхождения календаря
// @Summary		Ближайшие события
// @Description	Возвращает слоты календаря на ближайшие дни
// @Tags			events
// @Accept			json
// @Produce		json
// @Param			days_ahead	query	int	false	"Горизонт в днях (по умолчанию 7, максимум 30)"
// @Param			limit		query	int	false	"Максимум записей (по умолчанию 10)"
// @Security		BearerAuth
// @Success		200	{array}		EventResponse	"Ближайшие слоты календаря"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/events/upcoming [get]
func GetUpcomingEventsHandler(c *gin.Context) {
	daysAhead, err := strconv.Atoi(c.DefaultQuery("days_ahead", "7"))
	if err != nil || daysAhead < 1 || daysAhead > 30 {
		daysAhead = 7
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 50 {
		limit = 10
	}

	userID := c.GetUint("userID")
	groupIDs, err := userGroupIDs(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки групп пользователя",
			Details: err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	occurrences, err := schedule.QueryWindow(storage.DB, schedule.WindowQuery{
		From:     now,
		To:       now.AddDate(0, 0, daysAhead),
		GroupIDs: groupIDs,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки календаря",
			Details: err.Error(),
		})
		return
	}

	if len(occurrences) > limit {
		occurrences = occurrences[:limit]
	}
	items := make([]EventResponse, 0, len(occurrences))
	for _, o := range occurrences {
		items = append(items, occurrenceResponse(o))
	}
	c.JSON(http.StatusOK, items)
}

// GetEventHandler возвращает сохранённое событие по id
// @Summary		Детали события
// @Description	Возвращает сохранённое событие. Для виртуальных слотов сначала требуется материализация
// @Tags			events
// @Accept			json
// @Produce		json
// @Param			id	path		int	true	"ID события"
// @Security		BearerAuth
// @Success		200	{object}	EventResponse	"Событие"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_EVENT_ID)"
// @Failure		403	{object}	response.ErrorResponse	"Нет доступа к событию (ACCESS_DENIED)"
// @Failure		404	{object}	response.ErrorResponse	"Событие не найдено (EVENT_NOT_FOUND)"
// @Router			/api/events/{id} [get]
func GetEventHandler(c *gin.Context) {
	eventID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_EVENT_ID",
			Message: "Неверный идентификатор события",
		})
		return
	}

	var ev models.Event
	if err := storage.DB.Preload("EventGroups").Preload("EventCourses").
		Where("is_active = ?", true).
		First(&ev, eventID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "EVENT_NOT_FOUND",
			Message: "Событие не найдено",
		})
		return
	}

	if !userSeesEvent(c.GetUint("userID"), ev) {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "ACCESS_DENIED",
			Message: "Нет доступа к этому событию",
		})
		return
	}

	c.JSON(http.StatusOK, occurrenceResponse(schedule.NewRealOccurrence(ev)))
}

// userSeesEvent — принадлежит ли событие хотя бы одной группе пользователя.
func userSeesEvent(userID uint, ev models.Event) bool {
	groupIDs, err := userGroupIDs(userID)
	if err != nil {
		return false
	}
	visible := make(map[uint]bool, len(groupIDs))
	for _, id := range groupIDs {
		visible[id] = true
	}
	for _, eg := range ev.EventGroups {
		if visible[eg.GroupID] {
			return true
		}
	}
	return false
}

type CreateEventRequest struct {
	Title             string `json:"title" binding:"required"`
	Description       string `json:"description"`
	EventType         string `json:"event_type" binding:"omitempty,oneof=class webinar exam consultation"`
	StartTime         string `json:"start_time" binding:"required"` // RFC3339
	EndTime           string `json:"end_time" binding:"required"`   // RFC3339
	Location          string `json:"location"`
	IsOnline          *bool  `json:"is_online"`
	MeetingURL        string `json:"meeting_url"`
	RecurrencePattern string `json:"recurrence_pattern" binding:"omitempty,oneof=none daily weekly biweekly monthly"`
	RecurrenceEndDate string `json:"recurrence_end_date"` // YYYY-MM-DD
	GroupIDs          []uint `json:"group_ids" binding:"required,min=1"`
	CourseIDs         []uint `json:"course_ids"`
	MaxParticipants   int    `json:"max_participants"`
}

// CreateEventHandler создаёт разовое событие или шаблон повторяющегося
// @Summary		Создание события
// @Description	Создаёт разовое событие или шаблон повторяющегося события. Доступно преподавателю, куратору и администратору
// @Tags			events
// @Accept			json
// @Produce		json
// @Param			event	body		CreateEventRequest	true	"Данные события"
// @Security		BearerAuth
// @Success		201	{object}	EventResponse	"Созданное событие"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, SLOT_TAKEN)"
// @Failure		403	{object}	response.ErrorResponse	"Недостаточно прав (ACCESS_DENIED)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/events [post]
func CreateEventHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil || user.Role == models.RoleStudent {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "ACCESS_DENIED",
			Message: "Создание событий доступно преподавателю, куратору и администратору",
		})
		return
	}

	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "start_time должен быть в формате RFC3339",
		})
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil || !endTime.After(startTime) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "end_time должен быть в формате RFC3339 и позже start_time",
		})
		return
	}

	var recurrenceEnd *time.Time
	pattern := req.RecurrencePattern
	if pattern == "" {
		pattern = models.RecurrenceNone
	}
	isRecurring := pattern != models.RecurrenceNone
	if req.RecurrenceEndDate != "" {
		d, err := time.Parse("2006-01-02", req.RecurrenceEndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "recurrence_end_date должен быть в формате YYYY-MM-DD",
			})
			return
		}
		d = d.UTC()
		recurrenceEnd = &d
	}

	isOnline := true
	if req.IsOnline != nil {
		isOnline = *req.IsOnline
	}
	meetingURL := req.MeetingURL
	if isOnline && meetingURL == "" {
		meetingURL = "https://meet.lms.app/" + uuid.NewString()
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = "class"
	}

	ev := models.Event{
		Title:             req.Title,
		Description:       req.Description,
		EventType:         eventType,
		StartTime:         startTime.UTC(),
		EndTime:           endTime.UTC(),
		Location:          req.Location,
		IsOnline:          isOnline,
		MeetingURL:        meetingURL,
		CreatedBy:         userID,
		IsActive:          true,
		IsRecurring:       isRecurring,
		RecurrencePattern: pattern,
		RecurrenceEndDate: recurrenceEnd,
		MaxParticipants:   req.MaxParticipants,
	}

	err = storage.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		for _, gid := range req.GroupIDs {
			if err := tx.Create(&models.EventGroup{EventID: ev.ID, GroupID: gid}).Error; err != nil {
				return err
			}
			// Разовое событие занимает слот сразу; серия шаблона слоты не
			// резервирует — их займёт материализация.
			if !isRecurring {
				slot := models.EventSlot{
					EventID:  ev.ID,
					GroupID:  gid,
					StartsAt: ev.StartTime.Truncate(time.Minute),
				}
				if err := tx.Create(&slot).Error; err != nil {
					return err
				}
			}
		}
		for _, cid := range req.CourseIDs {
			if err := tx.Create(&models.EventCourse{EventID: ev.ID, CourseID: cid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "SLOT_TAKEN",
			Message: "На это время у группы уже есть событие",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка при создании события",
			Details: err.Error(),
		})
		return
	}

	invalidateCalendarCache()

	for _, gid := range req.GroupIDs {
		ws.HubInstance.BroadcastMessage(ws.Message{
			EventType: "event_created",
			GroupID:   strconv.FormatUint(uint64(gid), 10),
			Data: map[string]interface{}{
				"event_id": ev.ID,
				"title":    ev.Title,
				"start":    ev.StartTime,
			},
		})
	}

	// Связи перечитываются для ответа
	storage.DB.Preload("EventGroups").Preload("EventCourses").First(&ev, ev.ID)
	c.JSON(http.StatusCreated, occurrenceResponse(schedule.NewRealOccurrence(ev)))
}

type MaterializeRequest struct {
	ActingUserID uint `json:"acting_user_id"`
}

// MaterializeEventHandler превращает виртуальный слот в сохранённое событие
// @Summary		Материализация слота календаря
// @Description	Превращает виртуальный слот (псевдо-id из календаря) в сохранённую запись. Идемпотентна: повторный вызов возвращает ту же запись
// @Tags			events
// @Accept			json
// @Produce		json
// @Param			id	path		int	true	"ID слота (реальный или псевдо-id)"
// @Security		BearerAuth
// @Success		200	{object}	response.MaterializeResponse	"Идентификатор сохранённой записи"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_EVENT_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Слот не найден (OCCURRENCE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/events/{id}/materialize [post]
func MaterializeEventHandler(c *gin.Context) {
	occurrenceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_EVENT_ID",
			Message: "Неверный идентификатор слота",
		})
		return
	}

	actingUserID := c.GetUint("userID")
	var req MaterializeRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.ActingUserID != 0 {
		actingUserID = req.ActingUserID
	}

	ev, err := schedule.Materialize(storage.DB, uint(occurrenceID), actingUserID)
	if errors.Is(err, schedule.ErrOccurrenceNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "OCCURRENCE_NOT_FOUND",
			Message: "Слот календаря не найден",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка материализации слота",
			Details: err.Error(),
		})
		return
	}

	invalidateCalendarCache()

	var groups []models.EventGroup
	storage.DB.Where("event_id = ?", ev.ID).Find(&groups)
	for _, eg := range groups {
		ws.HubInstance.BroadcastMessage(ws.Message{
			EventType: "event_materialized",
			GroupID:   strconv.FormatUint(uint64(eg.GroupID), 10),
			Data: map[string]interface{}{
				"event_id": ev.ID,
				"start":    ev.StartTime,
			},
		})
	}

	c.JSON(http.StatusOK, response.MaterializeResponse{RealEventID: ev.ID})
}
