package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	echoapi "github.com/maktabahq/maktaba/apps/api/echo"
	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/attendance"
	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
	emailsvc "github.com/maktabahq/maktaba/services/email"
	logsvc "github.com/maktabahq/maktaba/services/logger"
	"github.com/maktabahq/maktaba/services/realtime"
	"github.com/maktabahq/maktaba/storage/database"
	inmemdb "github.com/maktabahq/maktaba/storage/database/inmem"
	sqlxrepos "github.com/maktabahq/maktaba/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up stores; transient harness state is always in memory
	memDB, err := inmemdb.Open()
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening in-mem database: %v", err), err)
	}

	var (
		sessionStore attendance.Store
		registry     scan.Registry
		codes        simulation.CodeSource
	)
	if conf.Debug {
		memReg := inmemdb.NewRegistryRepository(memDB)
		seedDemoRegistry(memReg)
		sessionStore = inmemdb.NewSessionRepository(memDB)
		registry = memReg
		codes = memReg
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()

		xdb := sqlx.NewDb(db, conf.Database.Engine)
		sqlReg := sqlxrepos.NewRegistryRepository(xdb)
		sessionStore = sqlxrepos.NewSessionRepository(xdb)
		registry = sqlReg
		codes = sqlReg
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	attSvc := attendance.NewService(conf.Attendance, sessionStore, hub, logger)
	scanSvc := scan.NewService(conf.Scanner, scan.NewRouter(registry), attSvc, hub, logger)

	deviceRepo := inmemdb.NewDeviceRepository(memDB)
	deviceRepo.SeedDefaultDevices()
	simSvc := simulation.NewService(
		inmemdb.NewScenarioRepository(memDB),
		inmemdb.NewResultRepository(memDB),
		deviceRepo,
		scanSvc,
		codes,
		logger,
	)
	if conf.ReportEmail != "" {
		simSvc.EnableReports(mailSvc, conf.ReportEmail)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	// =========================================================================
	// Start Session Expiry Sweeper

	sweeper := cron.New()
	if _, err = sweeper.AddFunc(conf.SweepSchedule, func() {
		if n, serr := attSvc.ExpireOverdue(context.Background()); serr != nil {
			logger.Error(fmt.Sprintf("sweeping expired sessions: %v", serr), serr)
		} else if n > 0 {
			logger.Info(fmt.Sprintf("auto-closed %d expired sessions", n))
		}
	}); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling expiry sweeper: %v", err), err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddr, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			ScanSvc:       scanSvc,
			AttendanceSvc: attSvc,
			SimSvc:        simSvc,
			Hub:           hub,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// seedDemoRegistry registers a handful of codes so a fresh dev instance
// can classify scans without a registry import.
func seedDemoRegistry(reg interface {
	SeedStudent(id, code string)
	SeedBook(id, code string)
	SeedEquipment(id, code string)
}) {
	for i := 1; i <= 20; i++ {
		reg.SeedStudent(fmt.Sprintf("student-%03d", i), fmt.Sprintf("STU-%05d", i))
	}
	for i := 1; i <= 10; i++ {
		reg.SeedBook(fmt.Sprintf("book-%03d", i), fmt.Sprintf("BOOK-%05d", i))
	}
	for i := 1; i <= 5; i++ {
		reg.SeedEquipment(fmt.Sprintf("equip-%03d", i), fmt.Sprintf("EQ-%05d", i))
	}
}
