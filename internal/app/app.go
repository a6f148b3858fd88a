package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uniedit/creditgate/internal/port/inbound"
	"github.com/uniedit/creditgate/internal/shared/config"
)

// App holds the assembled application.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Engine     *gin.Engine
	Reconciler inbound.SettlementReconciler
}

// New assembles the application from configuration. The returned cleanup
// releases connections and must run after Stop.
func New(cfg *config.Config) (*App, func(), error) {
	return InitializeApp(cfg)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.Engine
}

// Start starts background work.
func (a *App) Start(ctx context.Context) {
	if a.Config.Settlement.Enabled {
		a.Reconciler.Start(ctx)
	} else {
		a.Logger.Info("settlement reconciler disabled")
	}
}

// Stop stops background work and waits for it to finish.
func (a *App) Stop() {
	a.Reconciler.Stop()
}
