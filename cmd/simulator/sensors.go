package main

import (
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/hvacdash/hvacdash/pkg/ingest"
)

// sensor produces one reading per tick
type sensor interface {
	name() string
	sample(at time.Time) ingest.Sample
}

// thermometer follows a daily sine around base with a little noise
type thermometer struct {
	device    string
	base      float64
	amplitude float64
	noise     float64
	rng       *rand.Rand
}

func (t *thermometer) name() string { return t.device }

func (t *thermometer) sample(at time.Time) ingest.Sample {
	day := float64(at.Unix()%86400) / 86400
	// Peak mid-afternoon
	v := t.base + t.amplitude*math.Sin(2*math.Pi*(day-0.375))
	if t.noise > 0 {
		v += (t.rng.Float64()*2 - 1) * t.noise
	}
	v = math.Round(v*10) / 10
	ts := at.Unix()
	return ingest.Sample{Device: t.device, Time: &ts, Temperature: &v}
}

// ventilator is an ERV that occasionally changes fan speed
type ventilator struct {
	device  string
	inlet   *thermometer
	speeds  []string
	current int
	switchP float64
	rng     *rand.Rand
}

func (v *ventilator) name() string { return v.device }

func (v *ventilator) sample(at time.Time) ingest.Sample {
	if v.rng.Float64() < v.switchP {
		v.current = v.rng.Intn(len(v.speeds))
	}
	s := v.inlet.sample(at)
	s.Device = v.device

	drive := "ON"
	if v.speeds[v.current] == "OFF" {
		drive = "OFF"
	}
	s.Status = map[string]string{
		"Drive":     drive,
		"FanSpeed":  v.speeds[v.current],
		"InletTemp": strconv.FormatFloat(*s.Temperature, 'f', 1, 64),
	}
	return s
}

// house builds the default sensor set
func house(seed int64) []sensor {
	rng := rand.New(rand.NewSource(seed))
	return []sensor{
		&thermometer{device: "attic", base: 27, amplitude: 8, noise: 0.3, rng: rng},
		&thermometer{device: "basement", base: 16, amplitude: 0.5, noise: 0.1, rng: rng},
		&thermometer{device: "outdoor", base: 15, amplitude: 6, noise: 0.4, rng: rng},
		&ventilator{
			device:  "Kitchen ERV",
			inlet:   &thermometer{device: "Kitchen ERV", base: 21, amplitude: 1, rng: rng},
			speeds:  []string{"OFF", "LOW", "MID2", "MID1", "HIGH"},
			current: 1,
			switchP: 0.05,
			rng:     rng,
		},
	}
}
