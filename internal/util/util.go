package util

import (
	"github.com/berfenger/battexec/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			BaseTopic:        "battexec",
			HADiscoveryTopic: "homeassistant",
			CommandPrefix:    "battexec_bridge",
		},
		Control: config.ControlConfig{
			ScheduleCron:             "0 0/15 * * * *",
			LookbackSeconds:          300,
			TickTimeoutSeconds:       5,
			StepTimeoutSeconds:       1,
			SettleDelayMillis:        1,
			FailureThreshold:         3,
			AutonomyHours:            24,
			FetchTimeoutSeconds:      1,
			FeedbackTimeoutSeconds:   1,
			ProcedureDurationMinutes: 16,
		},
		Installations: []config.InstallationConfig{
			{
				Id:      "home",
				Enabled: true,
				Feed:    config.FeedConfig{URL: "http://localhost:8000", APIKey: "test"},
				Profile: config.ProfileConfig{
					Bindings: map[string]string{
						"mode_select":         "select.work_mode",
						"stepped_power_limit": "number.power_limit",
					},
					MaxPowerKw: 10,
					MaxSoc:     1,
				},
			},
		},
		Port:     8080,
		Timezone: "UTC",
	}
}
