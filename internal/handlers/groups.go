package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lms/internal/models"
	"lms/internal/response"
	"lms/internal/storage"

	"github.com/gin-gonic/gin"
)

var ctx = context.Background()

// GroupItem описывает группу в ответах API
type GroupItem struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	TeacherID *uint  `json:"teacher_id,omitempty"`
	CuratorID *uint  `json:"curator_id,omitempty"`
}

// userGroupIDs возвращает идентификаторы групп, видимых пользователю:
// студент видит свои группы, преподаватель и куратор — закреплённые за ними,
// администратор — все.
func userGroupIDs(userID uint) ([]uint, error) {
	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		return nil, err
	}

	var ids []uint
	switch user.Role {
	case models.RoleAdmin:
		if err := storage.DB.Model(&models.Group{}).Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
	case models.RoleTeacher, models.RoleCurator:
		if err := storage.DB.Model(&models.Group{}).
			Where("teacher_id = ? OR curator_id = ?", userID, userID).
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
	default:
		if err := storage.DB.Model(&models.GroupStudent{}).
			Where("student_id = ?", userID).
			Pluck("group_id", &ids).Error; err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// GetGroupsHandler обрабатывает запрос на получение списка групп пользователя
// @Summary		Получение списка групп
// @Description	Возвращает группы, доступные текущему пользователю, кэширует результат в Redis
// @Tags			groups
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		GroupItem	"Успешный ответ со списком групп"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/groups [get]
func GetGroupsHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	cacheKey := fmt.Sprintf("groups_user_%d", userID)

	// Проверка кэша
	cached, err := storage.RedisClient.Get(ctx, cacheKey).Result()
	if err == nil && cached != "" {
		var items []GroupItem
		if err := json.Unmarshal([]byte(cached), &items); err == nil {
			c.JSON(http.StatusOK, items)
			return
		}
	}

	ids, err := userGroupIDs(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки групп пользователя",
			Details: err.Error(),
		})
		return
	}

	items := make([]GroupItem, 0, len(ids))
	if len(ids) > 0 {
		var groups []models.Group
		if err := storage.DB.Where("id IN ?", ids).Order("name").Find(&groups).Error; err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка загрузки групп",
				Details: err.Error(),
			})
			return
		}
		for _, g := range groups {
			items = append(items, GroupItem{ID: g.ID, Name: g.Name, TeacherID: g.TeacherID, CuratorID: g.CuratorID})
		}
	}

	// Кэширование результата на 10 минут
	if data, err := json.Marshal(items); err == nil {
		storage.RedisClient.Set(ctx, cacheKey, string(data), 10*time.Minute)
	}

	c.JSON(http.StatusOK, items)
}
