package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mocknest/mocknest/internal/api"
	"github.com/mocknest/mocknest/internal/buildinfo"
	"github.com/mocknest/mocknest/internal/config"
	"github.com/mocknest/mocknest/internal/engine"
	"github.com/mocknest/mocknest/internal/geoip"
	"github.com/mocknest/mocknest/internal/seed"
	"github.com/mocknest/mocknest/internal/tenant"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if config.IsWeakSecret(envCfg.InternalAuthSecret) {
		log.Printf("warning: MOCKNEST_INTERNAL_AUTH_SECRET is weak; use a longer random value")
	}

	log.Printf("mocknest %s (%s) starting", buildinfo.Version, buildinfo.GitCommit)

	// 2. Optional GeoIP enrichment
	var geoResolver engine.CountryResolver
	var geo *geoip.Resolver
	if envCfg.GeoIPDB != "" {
		geo, err = geoip.Open(envCfg.GeoIPDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		geoResolver = geo
	}

	// 3. Tenant registry
	reg := tenant.NewRegistry(envCfg.DataDir, tenant.Options{
		Window:        envCfg.RateLimitWindow,
		RulesCacheTTL: envCfg.RulesCacheTTL,
		WSSendBuffer:  envCfg.WSSendBuffer,
		Reserved:      envCfg.ReservedTenants,
		Geo:           geoResolver,
	})

	// 4. Optional seed file
	if envCfg.SeedFile != "" {
		seedFile, err := seed.Load(envCfg.SeedFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		if err := seed.Apply(reg, envCfg.DataDir, seedFile); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	// 5. Counter sweep schedule
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(envCfg.CounterSweepSchedule, reg.SweepCounters); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: invalid sweep schedule: %v\n", err)
		os.Exit(1)
	}
	sweeper.Start()

	// 6. Public mock server and internal admin server
	mockSrv := &http.Server{
		Addr:    net.JoinHostPort(envCfg.ListenAddress, strconv.Itoa(envCfg.MockPort)),
		Handler: newInboundMux(envCfg.HostSuffix, reg),
	}
	adminSrv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.InternalPort,
		envCfg.InternalAuthSecret,
		reg,
		int64(envCfg.MaxBodyBytes),
	)

	go func() {
		log.Printf("mock server listening on %s", mockSrv.Addr)
		if err := mockSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("mock server error: %v", err)
		}
	}()
	go func() {
		log.Printf("internal admin server listening on %s:%d", envCfg.ListenAddress, envCfg.InternalPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("internal admin server error: %v", err)
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mockSrv.Shutdown(ctx); err != nil {
		log.Printf("mock server shutdown error: %v", err)
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Printf("internal admin server shutdown error: %v", err)
	}

	<-sweeper.Stop().Done()
	reg.Close()
	if geo != nil {
		_ = geo.Close()
	}
	log.Println("server stopped")
}
