// Package generator produces synthetic transactions for exercising rule
// sets. Output distributions are weighted so a default fraud rule set
// sees a realistic mix of clean traffic and rule-triggering outliers.
package generator

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/fraudlab/riskrules/rules"
)

// Scenario names one synthetic transaction profile.
type Scenario string

const (
	ScenarioLegitimate    Scenario = "legitimate"
	ScenarioHighAmount    Scenario = "high_amount"
	ScenarioHighVelocity  Scenario = "high_velocity"
	ScenarioRiskyMerchant Scenario = "risky_merchant"
)

var safeMerchants = []string{
	"groceries", "utilities", "transport", "restaurants", "pharmacy", "electronics",
}

var riskyMerchants = []string{
	"gambling", "crypto", "luxury_goods",
}

// scenarioWeights sums to 100; legitimate traffic dominates.
var scenarioWeights = []struct {
	scenario Scenario
	weight   int
}{
	{ScenarioLegitimate, 70},
	{ScenarioHighAmount, 10},
	{ScenarioHighVelocity, 10},
	{ScenarioRiskyMerchant, 10},
}

// Generator produces synthetic transaction records. Not safe for
// concurrent use; create one per goroutine.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator with the given seed. The same seed produces the
// same transaction sequence.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces n transactions with the default scenario mix.
func (g *Generator) Generate(n int) []rules.Record {
	records := make([]rules.Record, n)
	for i := range records {
		records[i] = g.Transaction(g.pickScenario())
	}
	return records
}

// Transaction produces one transaction for a scenario. Unknown scenarios
// fall back to the legitimate profile.
func (g *Generator) Transaction(scenario Scenario) rules.Record {
	record := rules.Record{
		"transaction_id":           uuid.NewString(),
		"transaction_amount":       g.amount(50, 2000),
		"transaction_velocity_24h": g.rng.Intn(5) + 1,
		"merchant_category":        pick(g.rng, safeMerchants),
		"is_new_device":            g.rng.Intn(10) == 0,
		"country_mismatch":         g.rng.Intn(20) == 0,
		"account_age_days":         g.rng.Intn(3000) + 30,
	}

	switch scenario {
	case ScenarioHighAmount:
		record["transaction_amount"] = g.amount(10001, 50000)
	case ScenarioHighVelocity:
		record["transaction_velocity_24h"] = g.rng.Intn(40) + 10
		record["is_new_device"] = true
	case ScenarioRiskyMerchant:
		record["merchant_category"] = pick(g.rng, riskyMerchants)
		record["account_age_days"] = g.rng.Intn(90)
	}
	return record
}

func (g *Generator) pickScenario() Scenario {
	n := g.rng.Intn(100)
	for _, sw := range scenarioWeights {
		if n < sw.weight {
			return sw.scenario
		}
		n -= sw.weight
	}
	return ScenarioLegitimate
}

// amount returns a value in [low, high) rounded to cents.
func (g *Generator) amount(low, high float64) float64 {
	v := low + g.rng.Float64()*(high-low)
	return float64(int(v*100)) / 100
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}
