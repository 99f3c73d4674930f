package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-sync/admission"
	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/cache"
	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/handlers"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/persistence"
	"github.com/tcriess/lightspeed-sync/room"
	"github.com/tcriess/lightspeed-sync/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()
	log.SetFlags(0)

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	fallback, err := persistence.NewBuntDBStore()
	if err != nil {
		panic(err)
	}
	var primary *persistence.RedisStore
	if globalConfig.RedisConfig.Addr != "" {
		primary = persistence.NewRedisStore(globalConfig.RedisConfig)
	}
	store := persistence.NewTieredStore(primary, fallback, globalConfig.StoreConfig.ProbeInterval)
	defer store.Close()

	authenticator, err := auth.NewAuthenticator(globalConfig.AuthConfig)
	if err != nil {
		panic(err)
	}

	registry := room.NewRegistry(store, authenticator, globalConfig.StoreConfig.RoomTTL)
	members, err := cache.NewMembers(registry, globalConfig.CacheConfig.MembersTTL)
	if err != nil {
		panic(err)
	}
	registry.SetInvalidator(members)

	rateLimiter := limiter.NewLimiter(store, globalConfig.LimitsConfig)
	gauge := limiter.NewIPGauge(store, globalConfig.LimitsConfig)

	orchestrator := admission.NewOrchestrator(authenticator, members, rateLimiter, gauge, globalConfig.LimitsConfig.EnforceMessages)
	hubSet := ws.NewHubSet(orchestrator)
	orchestrator.SetTransport(hubSet)

	cronRunner := cron.New()
	_, err = cronRunner.AddFunc("@every "+globalConfig.CacheConfig.SweepInterval.String(), members.Sweep)
	if err != nil {
		panic(err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	setupRoutes(registry, rateLimiter, orchestrator, hubSet)

	// start HTTP server
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

func setupRoutes(registry *room.Registry, rateLimiter *limiter.Limiter, orchestrator *admission.Orchestrator, hubSet *ws.HubSet) {
	router := mux.NewRouter()
	roomHandler := handlers.NewRoomHandler(registry, rateLimiter, orchestrator)
	roomHandler.Routes(router.PathPrefix("/api").Subrouter())
	router.Handle("/sync/{target:room:[^/]+}",
		handlers.RateLimit(rateLimiter, limiter.DimensionHTTP, http.HandlerFunc(hubSet.ServeWS))).Methods(http.MethodGet)
	http.Handle("/", router)
}
