package bootstrap

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/config"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/infrastructure"
	"github.com/quantdesk/bar-service/internal/repository"
	"github.com/quantdesk/bar-service/internal/service/catalog"
	"github.com/quantdesk/bar-service/internal/service/ema"
	"github.com/quantdesk/bar-service/internal/util"
)

// StartEMARefresh wires and runs one EMA family's refresh.
func StartEMARefresh(cmd *cobra.Command, family constant.EMAFamily) {
	ctx, stop := signalContext(context.Background())
	defer stop()

	dbCfg := config.Env.Database["market_data"]
	db, err := infrastructure.NewPostgresConnection(ctx, dbCfg)
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, dbCfg.PingInterval)

	var nc *nats.Conn
	var js nats.JetStreamContext
	if config.Env.Refresh.PublishEvents {
		nc, js, err = infrastructure.NewJetstream()
		util.ContinueOrFatal(err)
	}

	catalogStore, err := catalog.NewStore(
		repository.NewTimeframeRepository(db),
		config.Env.Redis["cache"].CacheDSN,
		config.Env.Refresh.CatalogCacheTTL,
	)
	util.ContinueOrFatal(err)

	refresher := ema.NewRefresher(
		family,
		repository.NewBarRepository(db, family.SourceBarFamily()),
		repository.NewBarRepository(db, constant.BarFamilyDaily),
		repository.NewDailyPriceRepository(db),
		repository.NewEMARepository(db, family),
		repository.NewEMAStateRepository(db, family),
		repository.NewAuditRepository(db),
		catalogStore,
		js,
	)

	opts, err := emaOptionsFromFlags(cmd)
	util.ContinueOrFatal(err)

	_, refreshErr := refresher.Refresh(ctx, opts)

	runCleanups(shutdownTimeout, map[string]cleanup{
		"catalog cache": func(context.Context) error {
			return catalogStore.Close()
		},
		"market data database": func(context.Context) error {
			stop()
			return db.Close()
		},
		"nats connection": func(context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	if refreshErr != nil {
		logrus.WithError(refreshErr).Fatal("ema refresh failed")
	}
}

func emaOptionsFromFlags(cmd *cobra.Command) (ema.Options, error) {
	rawEntities, _ := cmd.Flags().GetString("entities")
	rawTimeframes, _ := cmd.Flags().GetString("timeframes")
	fullRefresh, _ := cmd.Flags().GetBool("full-refresh")
	numWorkers, _ := cmd.Flags().GetInt("num-workers")
	periods, _ := cmd.Flags().GetIntSlice("periods")

	entityIDs, err := util.ParseEntitySelector(rawEntities)
	if err != nil {
		return ema.Options{}, err
	}

	if numWorkers <= 0 {
		numWorkers = config.Env.Refresh.NumWorkers
	}
	if len(periods) == 0 {
		periods = config.Env.Refresh.EMAPeriods
	}

	return ema.Options{
		EntityIDs:    entityIDs,
		TimeframeIDs: util.ParseTimeframeSelector(rawTimeframes),
		Periods:      periods,
		FullRefresh:  fullRefresh,
		NumWorkers:   numWorkers,
	}, nil
}
