package main

import (
	"fmt"
	"log"
	"os"

	_ "lms/docs"
	"lms/internal/auth"
	"lms/internal/handlers"
	"lms/internal/models"
	"lms/internal/storage"
	"lms/internal/tasks"
	"lms/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						LMS: календарь и расписание занятий
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
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

	storage.InitRedis()

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	api := r.Group("/api", auth.AuthMiddleware())
	{
		api.GET("/groups", handlers.GetGroupsHandler)
		api.GET("/groups/:id/ws", ws.GroupWebSocketHandler)

		api.GET("/events/calendar", handlers.GetCalendarHandler)
		api.GET("/events/upcoming", handlers.GetUpcomingEventsHandler)
		api.GET("/events/:id", handlers.GetEventHandler)
		api.POST("/events", handlers.CreateEventHandler)
		api.POST("/events/:id/materialize", handlers.MaterializeEventHandler)
	}

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
