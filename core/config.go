package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		Build    string
		AppName  string
		WorkDir  string

		Server struct {
			Host            string
			Addr            string
			DebugAddr       string
			ShutdownTimeout time.Duration
		}

		Database struct {
			Engine        string
			Name          string
			User          string
			Password      string
			AdminUser     string
			AdminPassword string
			Host          string
			Port          string
			DisableTLS    bool
		}

		Scanner    ScannerConfig
		Attendance AttendanceConfig

		// cron spec for the session-expiry sweeper; empty disables it
		SweepSchedule string

		RollbarToken     string
		SendgridAPIKey   string
		DefaultFromEmail string
		// operator address for load-test summary reports; empty disables them
		ReportEmail string
	}

	// ScannerConfig drives code assembly from keyboard-wedge scanners.
	ScannerConfig struct {
		Enabled         bool
		MinLength       int
		MaxLength       int
		Prefix          string
		Suffix          string
		InterKeyTimeout time.Duration
	}

	// AttendanceConfig drives the check-in/check-out state machine.
	AttendanceConfig struct {
		MinCheckInInterval time.Duration
		DefaultSessionTime time.Duration
	}
)

func (c *Config) DatabaseAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Maktaba")
	v.SetDefault("build", "dev")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.debugAddr", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.name", "maktaba")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.minLength", 3)
	v.SetDefault("scanner.maxLength", 50)
	v.SetDefault("scanner.interKeyTimeout", 100*time.Millisecond)
	v.SetDefault("attendance.minCheckInInterval", 10*time.Minute)
	v.SetDefault("attendance.defaultSessionTime", 8*time.Hour)
	v.SetDefault("sweepSchedule", "@every 1m")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:            v.GetBool("debug"),
		TestMode:         env == "TEST",
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		WorkDir:          wd,
		SweepSchedule:    v.GetString("sweepSchedule"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridAPIKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		ReportEmail:      v.GetString("reportEmail"),
	}
	conf.Server.Host = v.GetString("server.host")
	conf.Server.Addr = v.GetString("server.addr")
	conf.Server.DebugAddr = v.GetString("server.debugAddr")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetString("database.port")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")
	conf.Scanner = ScannerConfig{
		Enabled:         v.GetBool("scanner.enabled"),
		MinLength:       v.GetInt("scanner.minLength"),
		MaxLength:       v.GetInt("scanner.maxLength"),
		Prefix:          v.GetString("scanner.prefix"),
		Suffix:          v.GetString("scanner.suffix"),
		InterKeyTimeout: v.GetDuration("scanner.interKeyTimeout"),
	}
	conf.Attendance = AttendanceConfig{
		MinCheckInInterval: v.GetDuration("attendance.minCheckInInterval"),
		DefaultSessionTime: v.GetDuration("attendance.defaultSessionTime"),
	}
	return conf
}

// Getwd tries to find the project root.
// go-test changes the working directory to the test package being run during tests... this breaks our code...
// see: https://stackoverflow.com/questions/23847003/golang-tests-and-working-directory
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err = os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd // not in a checkout; fall back to cwd
		}
		currDir = newDir
	}
}
