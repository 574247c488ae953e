package service

import (
	"math"

	"github.com/berfenger/battexec/internal/core/domain"
	"go.uber.org/zap"
)

// ClampResult carries the value sent to the controller and whether the
// clamp had to change it.
type ClampResult struct {
	Requested float64
	PowerKw   float64
	Clamped   bool
}

type SafetyClamp struct {
	logger *zap.Logger
}

func NewSafetyClamp(logger *zap.Logger) *SafetyClamp {
	return &SafetyClamp{logger: logger}
}

// Clamp bounds powerKw to [0, profile.MaxPowerKw]. It never rejects a
// decision: an out of range value still produces a command.
func (c *SafetyClamp) Clamp(decision domain.ControlDecision, profile domain.DeviceProfile) ClampResult {
	result := ClampResult{
		Requested: decision.PowerKw,
		PowerKw:   ClampPower(decision.PowerKw, profile.MaxPowerKw),
	}
	if result.PowerKw != decision.PowerKw {
		result.Clamped = true
		if c.logger != nil {
			c.logger.Warn("safety: SafetyViolation power clamped",
				zap.String("installation", profile.InstallationID),
				zap.String("mode", string(decision.Mode)),
				zap.Float64("requested_kw", decision.PowerKw),
				zap.Float64("clamped_kw", result.PowerKw),
				zap.Float64("max_power_kw", profile.MaxPowerKw))
		}
	}
	return result
}

// ClampPower bounds a value to [0, max]. NaN maps to 0.
func ClampPower(powerKw, maxKw float64) float64 {
	if math.IsNaN(powerKw) || powerKw < 0 {
		return 0
	}
	if maxKw >= 0 && powerKw > maxKw {
		return maxKw
	}
	return powerKw
}
