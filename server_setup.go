// server_setup.go - Asynq server and route setup
package main

import (
	"log"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

func startAsynqServer(redisOpt asynq.RedisClientOpt, handlers *Handlers) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotifyCustomer, handlers.HandleNotifyCustomer)

	if err := srv.Run(mux); err != nil {
		log.Fatal("Asynq server failed to start:", err)
	}
}

func setupRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api/v1")

	// Store record
	api.POST("/stores/:storeId/init", handlers.InitStore)
	api.GET("/stores/:storeId", handlers.GetStore)
	api.PUT("/stores/:storeId/accepting", handlers.SetAccepting)

	// Display content for the customer page
	api.GET("/stores/:storeId/info", handlers.GetStoreInfo)
	api.PUT("/stores/:storeId/info", handlers.SetTodaySpecial)

	// Queue operations
	api.POST("/stores/:storeId/tickets", handlers.IssueTicket)
	api.POST("/stores/:storeId/call-next", handlers.CallNext)
	api.GET("/stores/:storeId/tickets/waiting", handlers.ListWaiting)
	api.GET("/stores/:storeId/tickets", handlers.ListByUser)
	api.PUT("/tickets/:ticketId/status", handlers.UpdateTicketStatus)

	// Notification channel access for the customer page
	api.GET("/token", handlers.GrantToken)

	// Connectivity testing
	api.GET("/test/notification/:userID", handlers.TestNotification)
}
