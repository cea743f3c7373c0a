// Package sim implements the per-compartment environment model. Each node
// owns one Env that is advanced by Δt under the influence of its actuators;
// all rates are per-second and linear in Δt, with small uniform noise added
// per step.
package sim

import (
	"math"
	"math/rand/v2"
)

// Actuators is the actuator state applied to one simulation step.
type Actuators struct {
	FanOn  bool
	PumpOn bool
	CO2On  bool
	Window string // WindowClosed, WindowHalf or WindowOpen
}

// Window levels.
const (
	WindowClosed = "CLOSED"
	WindowHalf   = "HALF"
	WindowOpen   = "OPEN"
)

// Initial environment values for a fresh compartment.
const (
	initialTempC    = 22.0
	initialHumidity = 55.0
	initialLightLux = 420.0
	initialPH       = 6.4
	initialTime     = 12.0
)

// Virtual outside world: temperature swings between these bounds peaking at
// 14:00; light follows a half-sine between 06:00 and 18:00 with a night floor.
const (
	outsideTempMin  = 8.0
	outsideTempMax  = 16.0
	outsideTempPeak = 14.0
	daytimeLightLux = 30000.0
	nightLightLux   = 50.0
)

// Clamp bounds for the simulated quantities.
const (
	minLightLux = 50.0
	maxLightLux = 50000.0
)

// Env is the continuous state of one compartment. It is not self-locking;
// the node manager serialises access.
type Env struct {
	TemperatureC float64
	HumidityPct  float64
	LightLux     float64
	PH           float64
	TimeOfDay    float64 // hours, [0,24)

	noise *rand.Rand // nil disables noise (deterministic stepping)
}

// NewEnv creates an environment at the standard initial values. A nil noise
// source yields fully deterministic steps (used by tests).
func NewEnv(noise *rand.Rand) *Env {
	return &Env{
		TemperatureC: initialTempC,
		HumidityPct:  initialHumidity,
		LightLux:     initialLightLux,
		PH:           initialPH,
		TimeOfDay:    initialTime,
		noise:        noise,
	}
}

// NewNoise builds a per-env noise source. Each Env gets its own so that
// parallel ticks on different nodes never share rand state.
func NewNoise(seed1, seed2 uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed1, seed2))
}

// Step advances the environment by dt seconds under the given actuator
// state. It never fails; out-of-range results are clamped silently.
func (e *Env) Step(dt float64, act Actuators) {
	e.TimeOfDay = math.Mod(e.TimeOfDay+dt/3600, 24)

	outTemp := e.OutsideTemp()
	outLight := e.OutsideLight()

	// Temperature: exchange with outside scaled by window/fan, CO2 burner
	// warmth while below outside+5, plus a little radiative gain from light.
	k := 0.03 + windowTempFactor(act.Window)
	if act.FanOn {
		k += 0.07
	}
	dT := (outTemp - e.TemperatureC) * k
	if act.CO2On && e.TemperatureC < outTemp+5 {
		dT += 0.25
	}
	dT += (e.LightLux / 45000) * 0.005
	e.TemperatureC += dT*dt + e.noiseVal(0.02)

	// Humidity: pump raises, fan and open window dry, warm air holds more.
	dH := -0.08
	if act.PumpOn {
		dH = 0.35
	}
	if act.FanOn {
		dH -= 0.20
	}
	dH += windowHumidityFactor(act.Window)
	dH += (e.TemperatureC - 20) * 0.02
	e.HumidityPct = clamp(e.HumidityPct+dH*dt+e.noiseVal(0.15), 0, 100)

	// Light: relax toward the outside level (or the shaded floor when the
	// window is closed) at a window-dependent rate.
	target := outLight
	if act.Window == WindowClosed {
		target = nightLightLux
	}
	dL := (target - e.LightLux) * windowLightFactor(act.Window)
	e.LightLux = clamp(e.LightLux+dL*dt+e.noiseVal(5), minLightLux, maxLightLux)

	// pH: irrigation pulls toward neutral, CO2 acidifies toward 6.
	dPH := 0.0
	if act.PumpOn {
		dPH += (7 - e.PH) * 0.05
	}
	if act.CO2On {
		dPH += (6 - e.PH) * 0.04
	}
	e.PH = clamp(e.PH+dPH*dt+e.noiseVal(0.01), 0, 14)
}

// OutsideTemp is the virtual outdoor temperature for the current time of
// day: a sinusoid between outsideTempMin and outsideTempMax peaking at 14:00.
func (e *Env) OutsideTemp() float64 {
	mid := (outsideTempMin + outsideTempMax) / 2
	amp := (outsideTempMax - outsideTempMin) / 2
	return mid + amp*math.Cos((e.TimeOfDay-outsideTempPeak)/24*2*math.Pi)
}

// OutsideLight is the virtual outdoor illuminance: a half-sine between
// 06:00 and 18:00, the night floor otherwise.
func (e *Env) OutsideLight() float64 {
	if e.TimeOfDay >= 6 && e.TimeOfDay <= 18 {
		return daytimeLightLux * math.Sin(math.Pi*(e.TimeOfDay-6)/12)
	}
	return nightLightLux
}

func (e *Env) noiseVal(amplitude float64) float64 {
	if e.noise == nil {
		return 0
	}
	return (e.noise.Float64()*2 - 1) * amplitude
}

func windowTempFactor(w string) float64 {
	switch w {
	case WindowOpen:
		return 0.12
	case WindowHalf:
		return 0.05
	default:
		return 0
	}
}

func windowHumidityFactor(w string) float64 {
	switch w {
	case WindowOpen:
		return -0.30
	case WindowHalf:
		return -0.15
	default:
		return 0
	}
}

func windowLightFactor(w string) float64 {
	switch w {
	case WindowOpen:
		return 0.05
	case WindowHalf:
		return 0.03
	default:
		return 0.01
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
