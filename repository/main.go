package repository

import (
	"github.com/fleetpulse/fleet-control/infra"
	"gorm.io/gorm"
)

type Repository struct {
	ServerRepo       *ServerRepository
	MetricRepo       *MetricRepository
	AlertRepo        *AlertRepository
	BreachRepo       *BreachStateRepository
	NotificationRepo *NotificationRepository
	ActionRepo       *ActionRepository
	AuditRepo        *ActionAuditRepository
}

var repository *Repository

func InitRepository(infra *infra.Infra) *Repository {
	repository = New(infra.Postgres.DB)
	return repository
}

// New builds a repository set over any gorm handle, including a transaction
// handle inside a gorm Transaction callback.
func New(db *gorm.DB) *Repository {
	return &Repository{
		ServerRepo:       NewServerRepository(db),
		MetricRepo:       NewMetricRepository(db),
		AlertRepo:        NewAlertRepository(db),
		BreachRepo:       NewBreachStateRepository(db),
		NotificationRepo: NewNotificationRepository(db),
		ActionRepo:       NewActionRepository(db),
		AuditRepo:        NewActionAuditRepository(db),
	}
}

func GetRepository() *Repository {
	if repository == nil {
		panic("repository not initialized")
	}
	return repository
}
