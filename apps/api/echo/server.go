package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/attendance"
	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
	"github.com/maktabahq/maktaba/services/realtime"
)

type (
	ServerDeps struct {
		Conf          *core.Config
		Logger        core.Logger
		ScanSvc       *scan.Service
		AttendanceSvc *attendance.Service
		SimSvc        *simulation.Service
		Hub           *realtime.Hub
		Validate      *validator.Validate
		Translator    ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Errors() chan error
		ShutdownSignal() chan os.Signal
		Shutdown(ctx context.Context) error
		Close() error
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errs     chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errs:     make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")

	registerScanAPI(v1, s.deps.ScanSvc, s.deps.Validate)
	registerAttendanceAPI(v1, s.deps.AttendanceSvc, s.deps.Validate)
	registerSimulationAPI(v1, s.deps.SimSvc, s.deps.Validate)

	if s.deps.Hub != nil {
		v1.GET("/ws", echo.WrapHandler(s.deps.Hub))
	}
}

func (s *server) Start() {
	signal.Notify(s.shutdown, syscall.SIGINT, syscall.SIGTERM)
	s.errs <- s.app.Start(s.deps.Conf.Server.Addr)
}

func (s *server) Errors() chan error            { return s.errs }
func (s *server) ShutdownSignal() chan os.Signal { return s.shutdown }

// signalShutdown triggers a graceful shutdown from within a handler.
func (s *server) signalShutdown() {
	s.shutdown <- syscall.SIGTERM
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Maktaba Scan API!")
}
