// Package global provides centralized initialization and configuration for core services.
package global

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/eventscope/eventscope/pkgs/utils"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Singleton is a generic type that holds a single instance of a type T.
type Singleton[T any] struct {
	instance *T
	once     sync.Once
	errs     []error
}

// NewSingleton creates a new instance of Singleton.
func NewSingleton[T any]() *Singleton[T] {
	return &Singleton[T]{
		instance: new(T),
		once:     sync.Once{},
		errs:     nil,
	}
}

// Errors returns a slice of errors encountered during initialization.
func (s *Singleton[T]) Errors() []error {
	return s.errs
}

func (s *Singleton[T]) Panic(msg string) {
	sb := strings.Builder{}
	for _, err := range s.errs {
		sb.WriteString(fmt.Sprintf(" - %s\n", err))
	}
	panic(fmt.Errorf("%s:\n%s", msg, sb.String()))
}

func (s *Singleton[T]) CleanUp() {
	s.instance = nil
	s.errs = nil
}

func (s *Singleton[T]) Reset() {
	s.once = sync.Once{}
	s.CleanUp()
}

// Logger is the global zerolog logger instance.
var Logger zerolog.Logger

// mode indicates the current running mode (e.g., "dev", "prod").
var mode string

// SetMode sets the current running mode (e.g., "dev", "prod").
func SetMode(m string) {
	mode = m
}

// Mode returns the current running mode (e.g., "dev", "prod").
func Mode() string {
	return utils.DefaultIfZero(mode, "dev")
}

// Validate singleton instance
var validate = NewSingleton[validator.Validate]()

// Validator returns the singleton instance of the validator.
func Validator() *validator.Validate {
	validate.once.Do(func() {
		validate.instance = validator.New()
		Logger.Info().Msg("Validator initialized")
	})

	if len(validate.errs) > 0 {
		validate.Panic("validator errors")
	}
	return validate.instance
}

// ReadDotEnvFile reads a dotfile configuration using Viper.
func ReadDotEnvFile(fname, ftype string, fpath []string) error {
	viper.SetConfigName(fname)
	viper.SetConfigType(ftype)
	for _, p := range fpath {
		viper.AddConfigPath(p)
	}
	viper.AutomaticEnv()
	return viper.ReadInConfig()
}

// LoadConfigs loads configuration from file and sets up the logger and mode.
// A missing config file is not an error; defaults and environment apply.
func LoadConfigs(fname, ftype string, fpath []string) error {
	setDefaults()
	if err := ReadDotEnvFile(fname, ftype, fpath); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read configuration file: %w", err)
		}
	}
	SetMode(utils.DefaultIfZero(viper.GetString("MODE"), "dev"))
	Logger = InitBaseLogger()
	return nil
}

// InitBaseLogger initializes the base logger for the application.
func InitBaseLogger() zerolog.Logger {
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	logger = logger.Level(utils.IfElse(
		mode == "dev",
		zerolog.DebugLevel,
		zerolog.InfoLevel))

	logger.Info().
		Str("mode", mode).
		Str("log_level", logger.GetLevel().String()).
		Msg("Base Logger Initialized")
	return logger
}

func Reset() {
	Logger.Warn().Msg("Resetting global state")
	validate.Reset()
	search.Reset()
	llm.Reset()
	viper.Reset()
}
