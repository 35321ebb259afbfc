package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/config"
	"agora-contentplane/pkg/db"
	"agora-contentplane/pkg/health"
	"agora-contentplane/pkg/httpapi"
	"agora-contentplane/pkg/id"
	"agora-contentplane/pkg/logger"
	"agora-contentplane/pkg/redis"
	"agora-contentplane/pkg/task"
	"agora-contentplane/services/content"
	"agora-contentplane/services/generator"
	"agora-contentplane/services/notification"
	"agora-contentplane/services/publisher"
	"agora-contentplane/services/rule"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		config.Module,
		logger.Module,
		clock.Module,
		id.Module,
		db.Module,
		redis.Module,
		health.Module,
		httpapi.Module,
		task.Client,
		task.Server,

		notification.Module,
		generator.Module,
		publisher.Module,
		content.Module,
		rule.Module,

		fx.Invoke(migrate),
	)

	app.Run()
}

func migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&rule.ScheduleRule{},
		&content.ScheduledContent{},
		&publisher.PlatformCredential{},
		&notification.Notification{},
	)
}
