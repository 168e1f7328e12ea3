package bootstrap

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantdesk/bar-service/internal/config"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/infrastructure"
	"github.com/quantdesk/bar-service/internal/repository"
	"github.com/quantdesk/bar-service/internal/service/bars"
	"github.com/quantdesk/bar-service/internal/service/catalog"
	"github.com/quantdesk/bar-service/internal/util"
)

const shutdownTimeout = 10 * time.Second

// StartBarRefresh wires and runs one bar family's refresh. It is the Run
// target of every refresh-*-bars command; the command resolves the family
// from its own flags before calling in.
func StartBarRefresh(cmd *cobra.Command, family constant.BarFamily) {
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

	builder := bars.NewBuilder(
		bars.PolicyFor(family),
		repository.NewDailyPriceRepository(db),
		repository.NewBarRepository(db, family),
		repository.NewBarStateRepository(db, family),
		repository.NewAuditRepository(db),
		catalogStore,
		js,
	)

	opts, err := barOptionsFromFlags(cmd)
	util.ContinueOrFatal(err)

	_, refreshErr := builder.Refresh(ctx, opts)

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
		logrus.WithError(refreshErr).Fatal("bar refresh failed")
	}
}

func barOptionsFromFlags(cmd *cobra.Command) (bars.Options, error) {
	rawEntities, _ := cmd.Flags().GetString("entities")
	rawTimeframes, _ := cmd.Flags().GetString("timeframes")
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	numWorkers, _ := cmd.Flags().GetInt("num-workers")
	lookbackDays, _ := cmd.Flags().GetInt("lookback-days")
	failOnRejects, _ := cmd.Flags().GetBool("fail-on-rejects")

	entityIDs, err := util.ParseEntitySelector(rawEntities)
	if err != nil {
		return bars.Options{}, err
	}

	if numWorkers <= 0 {
		numWorkers = config.Env.Refresh.NumWorkers
	}
	if lookbackDays < 0 {
		lookbackDays = config.Env.Refresh.LookbackDays
	}

	return bars.Options{
		EntityIDs:     entityIDs,
		TimeframeIDs:  util.ParseTimeframeSelector(rawTimeframes),
		Rebuild:       rebuild,
		NumWorkers:    numWorkers,
		LookbackDays:  lookbackDays,
		FailOnRejects: failOnRejects,
	}, nil
}
