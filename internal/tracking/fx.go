package tracking

import (
	"github.com/smallbiznis/attribution/internal/tracking/expiry"
	"github.com/smallbiznis/attribution/internal/tracking/liveevents"
	"github.com/smallbiznis/attribution/internal/tracking/service"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.uber.org/fx"
)

var Module = fx.Module("tracking",
	store.Module,
	fx.Provide(liveevents.NewHub),
	fx.Provide(service.NewService),
	expiry.Module,
)
