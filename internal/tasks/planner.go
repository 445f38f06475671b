package tasks

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"lms/internal/models"
	"lms/internal/schedule"
	"lms/internal/storage"
	"lms/internal/ws"

	"github.com/robfig/cron/v3"
)

var ctx = context.Background()

// NotifyUpcomingLessons рассылает напоминания о занятиях, начинающихся в
// ближайший час. Слоты берутся из оконного запроса движка — и реальные
// записи, и виртуальные вхождения шаблонов, своя арифметика повторений тут
// не нужна. Отправленные напоминания помечаются в Redis, чтобы следующий
// проход (и рестарт сервиса) не дублировал рассылку.
func NotifyUpcomingLessons() {
	var groupIDs []uint
	if err := storage.DB.Model(&models.Group{}).Pluck("id", &groupIDs).Error; err != nil {
		log.Println("Ошибка загрузки групп для напоминаний:", err)
		return
	}
	if len(groupIDs) == 0 {
		return
	}

	now := time.Now().UTC()
	occurrences, err := schedule.QueryWindow(storage.DB, schedule.WindowQuery{
		From:     now,
		To:       now.Add(time.Hour),
		GroupIDs: groupIDs,
	})
	if err != nil {
		log.Println("Ошибка оконного запроса для напоминаний:", err)
		return
	}

	for _, occ := range occurrences {
		key := fmt.Sprintf("reminder_%d_%d", occ.ID, occ.StartTime.Unix())
		// SETNX: напоминание уходит один раз, ключ живёт дольше самого занятия.
		set, err := storage.RedisClient.SetNX(ctx, key, "1", 2*time.Hour).Result()
		if err != nil {
			log.Println("Ошибка Redis при отметке напоминания:", err)
			continue
		}
		if !set {
			continue
		}

		for _, gid := range occ.GroupIDs() {
			ws.HubInstance.BroadcastMessage(ws.Message{
				EventType: "lesson_reminder",
				GroupID:   strconv.FormatUint(uint64(gid), 10),
				Data: map[string]interface{}{
					"occurrence_id": occ.ID,
					"title":         occ.Title,
					"start":         occ.StartTime,
					"is_virtual":    occ.IsVirtual,
				},
			})
		}
		log.Printf("Напоминание отправлено: %q в %s\n", occ.Title, occ.StartTime.Format(time.RFC3339))
	}
}

// DeactivateExpiredEvents снимает флаг активности с разовых событий,
// завершившихся больше 30 дней назад.
func DeactivateExpiredEvents() {
	threshold := time.Now().UTC().AddDate(0, 0, -30)
	res := storage.DB.Model(&models.Event{}).
		Where("is_recurring = ? AND is_active = ? AND end_time < ?", false, true, threshold).
		Update("is_active", false)
	if res.Error != nil {
		log.Println("Ошибка деактивации устаревших событий:", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("Деактивировано устаревших событий: %d\n", res.RowsAffected)
	}
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Напоминания о ближайших занятиях каждые 5 минут.
	_, err := c.AddFunc("0 */5 * * * *", NotifyUpcomingLessons)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи NotifyUpcomingLessons:", err)
	}

	// Деактивация устаревших событий каждый день в 03:00.
	_, err = c.AddFunc("0 0 3 * * *", DeactivateExpiredEvents)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи DeactivateExpiredEvents:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
