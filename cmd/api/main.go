package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/battexec/internal/adapter/actor"
	"github.com/berfenger/battexec/internal/adapter/commander"
	"github.com/berfenger/battexec/internal/adapter/feed"
	"github.com/berfenger/battexec/internal/adapter/modbus"
	"github.com/berfenger/battexec/internal/adapter/store"
	"github.com/berfenger/battexec/internal/config"
	"github.com/berfenger/battexec/internal/core/actor"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/core/service"
	"github.com/berfenger/battexec/internal/mqtt"
	"github.com/berfenger/battexec/internal/observability/metrics"
	"github.com/berfenger/battexec/internal/server"
	"github.com/berfenger/battexec/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lmittmann/tint"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, nil)))

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	metrics.Init()

	// profile resolution
	profileStore, err := store.NewYAMLProfileStore(cfg.DataDir)
	if err != nil {
		slog.Error("cannot open profile store", "error", err)
		os.Exit(1)
	}
	resolver := service.NewProfileResolver(profileStore, store.NewStaticRegistry(cfg.Installations), logger)
	switchStore, err := store.NewYAMLSwitchStore(cfg.DataDir)
	if err != nil {
		slog.Error("cannot open switch store", "error", err)
		os.Exit(1)
	}

	// device command backends
	devices, closeDevices, err := deviceCommander(cfg, logger)
	if err != nil {
		slog.Error("cannot start device commander", "error", err)
		os.Exit(1)
	}
	defer closeDevices()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(cfg, resolver, backendsProvider(cfg, devices, switchStore, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		slog.Error("cannot spawn master actor", "error", err)
		os.Exit(1)
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => BATTEXEC_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("BATTEXEC_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("battexec")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.MQTT.Enabled() {
		// check and fix base topic
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		// check and fix homeassistant discovery topic
		hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadBaseTopic

		if cfg.MQTT.CommandPrefix == "" {
			return nil, errors.New("config param mqtt.command_prefix is required")
		}
	}

	// check bounds
	if cfg.Control.TickTimeoutSeconds < 10 {
		return nil, errors.New("config param control.tick_timeout_seconds should be >= 10")
	}
	if cfg.Control.StepTimeoutSeconds == 0 || cfg.Control.StepTimeoutSeconds >= cfg.Control.TickTimeoutSeconds {
		return nil, errors.New("config param control.step_timeout_seconds should be > 0 and < control.tick_timeout_seconds")
	}
	if cfg.Control.FailureThreshold < 1 {
		return nil, errors.New("config param control.failure_threshold should be >= 1")
	}
	if cfg.Control.AutonomyHours == 0 {
		return nil, errors.New("config param control.autonomy_hours should be > 0")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("config param timezone: %w", err)
	}
	if _, err := service.NewAligner(cfg.Control.ScheduleCron, time.UTC, cfg.Control.Lookback()); err != nil {
		return nil, fmt.Errorf("config param control.schedule_cron: %w", err)
	}
	if err := config.CheckInstallations(cfg.Installations); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// deviceCommander routes entity handles to the MQTT command bridge and
// register handles to the Modbus device, whichever are configured.
func deviceCommander(cfg *config.Config, logger *zap.Logger) (port.DeviceCommander, func(), error) {
	var mqttCommander, modbusCommander port.DeviceCommander
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.MQTT.Enabled() {
		var cmd *mqtt.Commander
		opts := mqtt.OptsFromConfig(cfg)
		opts.WillEnabled = false
		opts.SetAutoReconnect(true)
		client := mqtt.CreateMQTTClient(cfg, opts, func(_ pahomqtt.Client) {
			// state subscriptions do not survive a reconnect
			cmd.Subscribe(func(err error) {
				if err != nil {
					logger.Error("main@commander state subscription failed", zap.Error(err))
				}
			})
		}, func(_ pahomqtt.Client, err error) {
			logger.Warn("main@commander connection lost", zap.Error(err))
		})
		cmd = mqtt.NewCommander(client, cfg.MQTT.CommandPrefix, logger.Named("mqtt_commander"))

		connected := make(chan error, 1)
		client.Connect(func(err error) { connected <- err }, 10*time.Second)
		if err := <-connected; err != nil {
			return nil, closeAll, fmt.Errorf("mqtt commander: %w", err)
		}
		closers = append(closers, func() { client.Disconnect(time.Second) })
		mqttCommander = cmd
	}

	if cfg.Modbus.Enabled() {
		timeout := time.Duration(cfg.Modbus.TimeoutMillis) * time.Millisecond
		cmd, client, err := modbus.NewCommander(cfg.Modbus.Host, cfg.Modbus.Port, uint8(cfg.Modbus.UnitId), timeout, logger.Named("modbus_commander"))
		if err != nil {
			return nil, closeAll, fmt.Errorf("modbus commander: %w", err)
		}
		if blocks, err := client.Survey(); err != nil {
			logger.Warn("main@commander sunspec survey failed", zap.Error(err))
		} else {
			logger.Info("main@commander sunspec survey", zap.Int("blocks", len(blocks)))
		}
		closers = append(closers, func() { client.Close() })
		modbusCommander = cmd
	}

	if mqttCommander == nil && modbusCommander == nil {
		return nil, closeAll, errors.New("neither mqtt nor modbus is configured, no device can be commanded")
	}
	return commander.NewRouter(mqttCommander, modbusCommander), closeAll, nil
}

func backendsProvider(cfg *config.Config, devices port.DeviceCommander, switches port.SwitchStore, logger *zap.Logger) actor.BackendsProvider {
	return func(inst config.InstallationConfig) (actor.InstallationBackends, error) {
		location, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return actor.InstallationBackends{}, err
		}
		client, err := feed.NewClient(inst.Feed.URL, inst.Feed.APIKey, location, cfg.Control.FetchTimeout(),
			logger.With(zap.String("installation", inst.Id)))
		if err != nil {
			return actor.InstallationBackends{}, err
		}
		return actor.InstallationBackends{
			Feed:      client,
			Sink:      client,
			Commander: devices,
			Switches:  switches,
		}, nil
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enabled() {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "battexec")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.command_prefix", "battexec_bridge")
	viper.SetDefault("modbus.port", 502)
	viper.SetDefault("modbus.unit_id", 1)
	viper.SetDefault("modbus.timeout_millis", 1000)
	viper.SetDefault("control.schedule_cron", service.QUARTER_HOUR_CRON)
	viper.SetDefault("control.lookback_seconds", 300)
	viper.SetDefault("control.tick_timeout_seconds", 120)
	viper.SetDefault("control.step_timeout_seconds", 10)
	viper.SetDefault("control.settle_delay_millis", 2000)
	viper.SetDefault("control.failure_threshold", 3)
	viper.SetDefault("control.autonomy_hours", 24)
	viper.SetDefault("control.fetch_timeout_seconds", 10)
	viper.SetDefault("control.feedback_timeout_seconds", 10)
	viper.SetDefault("control.procedure_duration_minutes", 16)
	viper.SetDefault("data_dir", "./data")
	viper.SetDefault("timezone", "UTC")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	installations := make([]config.InstallationConfig, len(cfg.Installations))
	for i, inst := range cfg.Installations {
		inst.Feed.APIKey = "*redacted*"
		installations[i] = inst
	}
	cfg.Installations = installations
	slog.Info("Using", "config", cfg)
}
