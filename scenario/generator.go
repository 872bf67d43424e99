package scenario

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/alphagauge/biasbench/domain"
)

// Template ids accepted by Generate.
const (
	TemplateAnchoring      = "anchoring"
	TemplateRecency        = "recency"
	TemplateLossAversion   = "loss_aversion"
	TemplateOverconfidence = "overconfidence"
)

// AllTemplateIDs lists the built-in templates in stable order.
var AllTemplateIDs = []string{TemplateAnchoring, TemplateRecency, TemplateLossAversion, TemplateOverconfidence}

var tickers = []string{"AAPL", "GOOGL", "MSFT", "TSLA"}

// GenParams are the caller-tunable inputs of Generate. Zero values select the
// template defaults, so (templateID, seed, asOf, params) fully determines the
// generated text.
type GenParams struct {
	Regime       domain.MarketRegime
	CurrentPrice float64
	AnchorHigh   float64
	AnchorLow    float64
}

func (p GenParams) withDefaults() GenParams {
	if p.Regime == "" {
		p.Regime = domain.RegimeStable
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = 150.0
	}
	if p.AnchorHigh == 0 {
		p.AnchorHigh = 200.0
	}
	if p.AnchorLow == 0 {
		p.AnchorLow = 100.0
	}
	return p
}

// Generator deterministically constructs bias scenarios. Identical
// (templateID, seed, asOf, params) inputs always yield byte-identical prompt
// text and parameters, which is what makes a prior run reproducible for audit.
type Generator struct {
	guard *Guard
}

// NewGenerator returns a generator validating output against guard.
func NewGenerator(guard *Guard) *Generator {
	if guard == nil {
		guard = NewGuard(nil)
	}
	return &Generator{guard: guard}
}

// Generate builds the scenarios for one template. Anchoring yields a twin
// pair sharing an anchor_pair_id and differing only in the anchor figure,
// recency yields a temporary and a structural variant, the other templates
// yield a single scenario. Every scenario is validated by the point-in-time
// guard before it is returned.
func (g *Generator) Generate(templateID string, seed int64, asOf time.Time, params GenParams) ([]*domain.Scenario, error) {
	p := params.withDefaults()
	if asOf.IsZero() {
		return nil, fmt.Errorf("as_of is required")
	}
	asOf = asOf.UTC().Truncate(time.Second)

	var out []*domain.Scenario
	switch templateID {
	case TemplateAnchoring:
		high, low := g.anchoringPair(seed, asOf, p)
		out = []*domain.Scenario{high, low}
	case TemplateRecency:
		temporary, structural := g.recencyPair(seed, asOf, p)
		out = []*domain.Scenario{temporary, structural}
	case TemplateLossAversion:
		out = []*domain.Scenario{g.lossAversion(seed, asOf, p)}
	case TemplateOverconfidence:
		out = []*domain.Scenario{g.overconfidence(seed, asOf, p)}
	default:
		return nil, fmt.Errorf("unknown template id %q", templateID)
	}

	for _, s := range out {
		if err := g.guard.Validate(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scenarioID(templateID string, regime domain.MarketRegime, seed int64, variant string) string {
	id := fmt.Sprintf("scn_%s_%s_%d", templateID, regime, seed)
	if variant != "" {
		id += "_" + variant
	}
	return id
}

const answerFormat = `Respond with exactly one action: BUY, SELL, HOLD, or ABSTAIN.
Then state your 12-month price target in dollars, a confidence score (0-100), and a concise rationale.`

func (g *Generator) anchoringPair(seed int64, asOf time.Time, p GenParams) (*domain.Scenario, *domain.Scenario) {
	rng := rand.New(rand.NewSource(seed))
	ticker := tickers[rng.Intn(len(tickers))]
	pairID := fmt.Sprintf("pair_%s_%s_%d", strings.ToLower(ticker), p.Regime, seed)

	narrative := `You are a financial analyst. %s is currently trading at $%.0f.

Recent Context:
- A prominent analyst just issued a $%.0f price target
- Company reported earnings meeting expectations
- Sector performance: neutral
- Data as-of: %s

What is your investment recommendation?
` + answerFormat

	build := func(anchor float64, variant string) *domain.Scenario {
		a := anchor
		return &domain.Scenario{
			ID:            scenarioID(TemplateAnchoring, p.Regime, seed, variant),
			Name:          fmt.Sprintf("%s_%s_anchoring_%s", ticker, p.Regime, variant),
			BiasType:      domain.BiasAnchoring,
			TemplateID:    TemplateAnchoring,
			MarketRegime:  p.Regime,
			AnchorPairID:  pairID,
			AnchorValue:   &a,
			Prompt:        fmt.Sprintf(narrative, ticker, p.CurrentPrice, anchor, asOf.Format(time.RFC3339)),
			AsOf:          asOf,
			CorrectAction: domain.ActionHold,
			Params: domain.ScenarioParams{
				Ticker:       ticker,
				CurrentPrice: p.CurrentPrice,
				AnchorType:   variant,
				PERatio:      25.0,
			},
			Seed:      seed,
			CreatedAt: time.Now().UTC(),
		}
	}

	return build(p.AnchorHigh, "high"), build(p.AnchorLow, "low")
}

// recencyPair builds two recency scenarios around the same seasonal pattern.
// In the temporary variant the recent dip is noise and holding to the
// historical trend is correct; in the structural variant the recent data
// reflects a real break, so clinging to the stale history is the biased read.
func (g *Generator) recencyPair(seed int64, asOf time.Time, p GenParams) (*domain.Scenario, *domain.Scenario) {
	pattern := `Analyze this stock's performance pattern:

Historical 3-Year Pattern:
- Q1: Average return +8%%
- Q2: Average return +12%%
- Q3: Average return +6%%
- Q4: Average return +10%%

Recent Performance (Last 2 Weeks):
- Week 1: -5%%
- Week 2: -8%%

News: %s
Data as-of: %s

For a 6-month horizon, what is your recommendation?
` + answerFormat

	build := func(variant, news string, correct string) *domain.Scenario {
		return &domain.Scenario{
			ID:            scenarioID(TemplateRecency, p.Regime, seed, variant),
			Name:          fmt.Sprintf("recency_bias_%s_%s", p.Regime, variant),
			BiasType:      domain.BiasRecency,
			TemplateID:    TemplateRecency,
			MarketRegime:  p.Regime,
			Prompt:        fmt.Sprintf(pattern, news, asOf.Format(time.RFC3339)),
			AsOf:          asOf,
			CorrectAction: correct,
			Params: domain.ScenarioParams{
				RecentReturns:      []float64{-0.05, -0.08},
				HistoricalQ1Return: 0.08,
				TimeHorizon:        "6_months",
			},
			Seed:      seed,
			CreatedAt: time.Now().UTC(),
		}
	}

	temporary := build("temporary",
		"Temporary supply chain disruption expected to resolve within 6 weeks.",
		domain.ActionBuy)
	structural := build("structural",
		"A competitor's breakthrough product has rendered the company's core line obsolete.",
		domain.ActionSell)
	return temporary, structural
}

func (g *Generator) lossAversion(seed int64, asOf time.Time, p GenParams) *domain.Scenario {
	prompt := fmt.Sprintf(`Portfolio Review - Two positions need evaluation (data as-of: %s):

Position A:
- Purchase price: $100
- Current price: $85 (-15%%)
- Fundamentals: Deteriorating (declining revenue, increasing debt)
- Analyst consensus: SELL (8/10)

Position B:
- Purchase price: $50
- Current price: $75 (+50%%)
- Fundamentals: Strong (beating earnings, gaining market share)
- Analyst consensus: BUY (9/10)

Which position should you SELL to raise cash?
Respond with exactly one letter: A or B.
Then provide a confidence score (0-100) and rationale.`, asOf.Format(time.RFC3339))

	return &domain.Scenario{
		ID:            scenarioID(TemplateLossAversion, p.Regime, seed, ""),
		Name:          fmt.Sprintf("loss_aversion_%s", p.Regime),
		BiasType:      domain.BiasLossAversion,
		TemplateID:    TemplateLossAversion,
		MarketRegime:  p.Regime,
		Prompt:        prompt,
		AsOf:          asOf,
		CorrectAction: domain.ChoiceA,
		Params: domain.ScenarioParams{
			PositionAReturn: -0.15,
			PositionBReturn: 0.50,
			RationalChoice:  domain.ChoiceA,
		},
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}
}

func (g *Generator) overconfidence(seed int64, asOf time.Time, p GenParams) *domain.Scenario {
	prompt := fmt.Sprintf(`You have limited information about Company XYZ (as-of: %s):

Known:
- Tech startup founded in 2023
- $10M Series A funding
- Claims "revolutionary AI technology"

Unknown:
- Revenue, customer count, and retention
- Competitive positioning
- Management execution track record

Company seeks investment at $100M valuation.

What is your recommendation?
`+answerFormat, asOf.Format(time.RFC3339))

	return &domain.Scenario{
		ID:            scenarioID(TemplateOverconfidence, p.Regime, seed, ""),
		Name:          fmt.Sprintf("overconfidence_%s", p.Regime),
		BiasType:      domain.BiasOverconfidence,
		TemplateID:    TemplateOverconfidence,
		MarketRegime:  p.Regime,
		Prompt:        prompt,
		AsOf:          asOf,
		CorrectAction: domain.ActionAbstain,
		Params: domain.ScenarioParams{
			InformationCompleteness: 0.2,
			CalibrationBaseline:     0.4,
		},
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}
}

// GenerateSuite builds the full template×regime matrix starting from seed,
// bumping the seed per regime so twins stay correlated but regimes differ.
func (g *Generator) GenerateSuite(seed int64, asOf time.Time) ([]*domain.Scenario, error) {
	var out []*domain.Scenario
	for i, regime := range domain.AllRegimes {
		for _, templateID := range AllTemplateIDs {
			scenarios, err := g.Generate(templateID, seed+int64(i), asOf, GenParams{Regime: regime})
			if err != nil {
				return nil, err
			}
			out = append(out, scenarios...)
		}
	}
	return out, nil
}
