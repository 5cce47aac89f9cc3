package main

import (
	"log"

	"go-social-chat/internal/api"
	"go-social-chat/internal/middleware"
	"go-social-chat/internal/repository"
	"go-social-chat/internal/service"
	"go-social-chat/internal/websocket"
	"go-social-chat/pkg/config"
	"go-social-chat/pkg/db"
	"go-social-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 初始化配置
	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.InitLogger(config.GlobalConfig.Log.Level, config.GlobalConfig.Log.ProductionMode); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库连接
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 仓储
	userRepo := repository.NewUserRepository()
	messageRepo := repository.NewMessageRepository()
	groupRepo := repository.NewGroupRepository()
	memberRepo := repository.NewGroupMemberRepository()
	groupMsgRepo := repository.NewGroupMessageRepository()

	// Hub与服务
	hub, err := websocket.CreateHub(nil)
	if err != nil {
		log.Fatalf("Failed to create hub: %v", err)
	}
	chatService := service.NewChatService(hub, messageRepo, userRepo)
	groupService := service.NewGroupService(hub, groupRepo, memberRepo, groupMsgRepo, userRepo)
	hub.SetEventHandler(chatService)
	router := service.NewEventRouter(hub, chatService, groupService)
	if err := websocket.StartHub(hub); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	// 处理器
	authHandler := api.NewAuthHandler()
	chatHandler := api.NewChatHandler(chatService)
	groupHandler := api.NewGroupHandler(groupService)
	wsHandler := api.NewWSHandler(hub, router)

	// 创建Gin引擎
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.GinZapLogger())

	// 公开路由
	r.POST("/api/auth/register", authHandler.Register)
	r.POST("/api/auth/login", authHandler.Login)

	// 受保护的路由
	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/ws", wsHandler.HandleConnection)

		protected.GET("/api/messages/:other_user_id", chatHandler.GetChatHistory)
		protected.POST("/api/messages", chatHandler.SendMessage)
		protected.POST("/api/messages/:other_user_id/read", chatHandler.MarkConversationRead)

		protected.GET("/api/groups", groupHandler.GetUserGroups)
		protected.POST("/api/groups", groupHandler.CreateGroup)
		protected.GET("/api/groups/:group_id", groupHandler.GetGroupInfo)
		protected.POST("/api/groups/:group_id/extend", groupHandler.ExtendExpiry)
		protected.GET("/api/groups/:group_id/messages", groupHandler.GetGroupChatHistory)
		protected.POST("/api/groups/:group_id/messages", groupHandler.SendGroupMessage)
		protected.DELETE("/api/groups/:group_id/messages/:message_id", groupHandler.DeleteGroupMessage)
		protected.POST("/api/groups/:group_id/messages/delete", groupHandler.DeleteGroupMessages)
		protected.POST("/api/groups/:group_id/members", groupHandler.AddGroupMember)
		protected.DELETE("/api/groups/:group_id/members/:user_id", groupHandler.RemoveGroupMember)
		protected.POST("/api/groups/:group_id/members/:user_id/promote", groupHandler.PromoteMember)
	}

	// 启动服务器
	if err := r.Run(":8080"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
