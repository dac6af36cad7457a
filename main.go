package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/superbryn/callcore/agent/booking"
	eventsx "github.com/superbryn/callcore/agent/events"
	"github.com/superbryn/callcore/agent/orchestrator"
	summaryx "github.com/superbryn/callcore/agent/summary"
	configx "github.com/superbryn/callcore/pkg/config"
	groqx "github.com/superbryn/callcore/pkg/groq"
	_ "github.com/superbryn/callcore/pkg/logger/autoload"
)

type AppConfig struct {
	StoreDriver     string `envconfig:"STORE_DRIVER" default:"memory"`
	EventBufferSize int    `envconfig:"EVENT_BUFFER_SIZE" default:"64"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("CALLCORE")

	var store booking.Store
	switch strings.ToLower(appCfg.StoreDriver) {
	case "postgres":
		pgCfg := configx.MustNew[booking.PostgresConfig]("POSTGRES")
		pg, err := booking.NewPostgresStore(*pgCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open postgres store")
		}
		defer pg.Close()
		store = pg
	case "memory":
		store = booking.NewMemoryStore()
	default:
		log.Fatal().Str("driver", appCfg.StoreDriver).Msg("unknown store driver")
	}

	groqCfg := configx.MustNew[groqx.Config]("GROQ")
	completer := groqx.MustNew(*groqCfg)

	summarizer := summaryx.NewGenerator(completer, *configx.MustNew[summaryx.Config]("SUMMARY"))
	publisher := eventsx.NewPublisher(appCfg.EventBufferSize)

	engine, err := orchestrator.New(store, summarizer, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build session engine")
	}
	_ = engine

	fmt.Println("callcore engine ready")
}
