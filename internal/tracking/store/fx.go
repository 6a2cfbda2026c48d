package store

import (
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/migration"
	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("tracking.store",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	GormLogger gormlogger.Interface `optional:"true"`
}

// NewStore builds the backend selected by STORE_BACKEND. The SQL backend opens
// the database and applies migrations before the store is handed out.
func NewStore(p Params) (trackingdomain.Store, error) {
	log := p.Log.Named("tracking.store")
	if p.Config.StoreBackend != config.StoreBackendSQL {
		log.Info("using in-memory event store")
		return NewMemoryStore(), nil
	}

	dbCfg := db.ConfigFrom(p.Config)
	conn, err := db.Open(p.Lifecycle, dbCfg, db.Options{
		Logger:  p.GormLogger,
		Tracing: true,
		Metrics: true,
	})
	if err != nil {
		return nil, err
	}
	if err := migration.Apply(conn); err != nil {
		return nil, err
	}

	log.Info("using sql event store", zap.String("dialect", conn.Dialector.Name()))
	return NewSQLStore(conn), nil
}
