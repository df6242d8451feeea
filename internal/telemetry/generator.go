package telemetry

import (
	"math"
	"math/rand"
	"time"

	"roadsense/internal/models"
)

// batteryChoices gives NORMAL double weight relative to the other two
var batteryChoices = []string{
	models.BatteryNormal,
	models.BatteryNormal,
	models.BatteryElevated,
	models.BatteryCritical,
}

// Generator produces plausible synthetic readings when no hardware
// source is available. Not safe for concurrent use; the acquisition
// loop is its only caller.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator seeded from the wall clock
func NewGenerator() *Generator {
	return &Generator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns one synthetic Reading. The timestamp stays empty, it is
// stamped at ingestion like any hardware reading.
func (g *Generator) Next() models.Reading {
	r := models.Reading{
		RRI:           math.Round((0.20+g.rng.Float64()*0.60)*100) / 100,
		BSI:           math.Round((8.0+g.rng.Float64()*17.0)*10) / 10,
		BatteryStatus: batteryChoices[g.rng.Intn(len(batteryChoices))],
	}
	switch p := g.rng.Float64(); {
	case p < 0.50:
		r.RoadCondition = models.RoadSmooth
	case p < 0.85:
		r.RoadCondition = models.RoadModerate
	default:
		r.RoadCondition = models.RoadRough
	}
	return r
}
