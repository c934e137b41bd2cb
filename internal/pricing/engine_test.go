package pricing

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	proposed map[bool]int
	applied  int
	passes   int
}

func (r *countingRecorder) Proposed(_ string, accepted bool) {
	if r.proposed == nil {
		r.proposed = map[bool]int{}
	}
	r.proposed[accepted]++
}

func (r *countingRecorder) Applied(string, Outcome) { r.applied++ }
func (r *countingRecorder) Pass(time.Duration, int) { r.passes++ }

func newTestEngine(t *testing.T, settings Settings, policy Policy, filters ...ItemFilter) (*Engine, *countingRecorder) {
	t.Helper()
	rec := &countingRecorder{}
	engine, err := NewEngine(EngineConfig{
		Matcher:     NewMatcher(newStubCatalog(), nil, settings),
		Policy:      policy,
		ItemFilters: filters,
		Recorder:    rec,
	})
	require.NoError(t, err)
	return engine, rec
}

func TestNewEngineRequiresMatcher(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
}

func TestEngineRejectsInvalidCart(t *testing.T) {
	engine, _ := newTestEngine(t, Settings{}, PolicyApplyAll)
	_, err := engine.Price(Request{})
	require.ErrorIs(t, err, ErrInvalidCart)

	_, err = engine.Price(Request{Cart: &Cart{Items: []*CartItem{
		item("a", simpleProduct(1, "10"), 1, "10"),
		item("a", simpleProduct(2, "10"), 1, "10"),
	}}})
	require.ErrorIs(t, err, ErrInvalidCart)

	_, err = engine.Price(Request{Cart: &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 0, "10")}}})
	require.ErrorIs(t, err, ErrInvalidCart)
}

func TestEnginePriceDoesNotMutateInput(t *testing.T) {
	engine, rec := newTestEngine(t, Settings{}, PolicyApplyAll)
	cart := &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 5, "10")}}
	before := cart.Clone()

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{mustRule(t, bundleConfig("r1", FixedDiscount, "2", 3, false))}})
	require.NoError(t, err)
	require.Equal(t, before, cart)

	requireMoney(t, "8.8", res.Cart.Items[0].Price)
	require.Equal(t, []string{"r1"}, res.AppliedRuleIDs())
	requireMoney(t, "50", res.Summary.Subtotal)
	requireMoney(t, "6", res.Summary.Discount)
	requireMoney(t, "44", res.Summary.Total)
	require.Equal(t, 1, rec.applied)
	require.Equal(t, 1, rec.passes)
}

func TestEngineSummaryMatchesAppliedDiscount(t *testing.T) {
	for _, group := range []bool{false, true} {
		engine, _ := newTestEngine(t, Settings{}, PolicyApplyAll)
		cart := &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 3, "10")}}

		res, err := engine.Price(Request{Cart: cart, Rules: []Rule{mustRule(t, bundleConfig("one-off", FixedDiscount, "1", 1, group))}})
		require.NoError(t, err)
		require.Len(t, res.Applied, 1)

		requireMoney(t, "1", res.Applied[0].Discount)
		requireMoney(t, "1", res.Cart.Items[0].Discount)
		requireMoney(t, "30", res.Summary.Subtotal)
		requireMoney(t, "1", res.Summary.Discount)
		requireMoney(t, "29", res.Summary.Total)
		requireMoney(t, "9.67", RoundMoney(res.Cart.Items[0].Price))
	}
}

func TestOrderRulesHandlesExtremePriorities(t *testing.T) {
	low := bundleConfig("low", FixedDiscount, "1", 1, false)
	low.Priority = math.MinInt
	high := bundleConfig("high", FixedDiscount, "1", 1, false)
	high.Priority = math.MaxInt
	mid := bundleConfig("mid", FixedDiscount, "1", 1, false)

	ordered := orderRules([]Rule{mustRule(t, high), nil, mustRule(t, mid), mustRule(t, low)})
	ids := make([]string, 0, len(ordered))
	for _, r := range ordered {
		ids = append(ids, r.ID())
	}
	require.Equal(t, []string{"low", "mid", "high"}, ids)
}

func TestEngineCommitsInPriorityOrderAgainstBaseline(t *testing.T) {
	engine, rec := newTestEngine(t, Settings{}, PolicyApplyAll)
	cart := &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 4, "10")}}

	late := bundleConfig("late", FixedDiscount, "1", 4, false)
	late.Priority = 5
	early := bundleConfig("early", FixedDiscount, "2", 2, false)
	early.Priority = 1

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{mustRule(t, late), mustRule(t, early)}})
	require.NoError(t, err)
	require.Equal(t, []string{"early", "late"}, res.AppliedRuleIDs())

	it := res.Cart.Items[0]
	require.Len(t, it.Modifiers, 2)
	require.Equal(t, 2, it.Modifiers[0].ModifyQuantity)
	require.Equal(t, 2, it.Modifiers[1].ModifyQuantity, "later rule only gets uncovered units")
	require.LessOrEqual(t, it.ModifiedQuantity(), it.Quantity)
	require.Equal(t, 2, rec.proposed[true])
}

func TestEngineFirstMatchPolicy(t *testing.T) {
	engine, _ := newTestEngine(t, Settings{}, PolicyFirstMatch)
	cart := &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 4, "10")}}

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{
		mustRule(t, bundleConfig("one", FixedDiscount, "1", 1, false)),
		mustRule(t, bundleConfig("two", FixedDiscount, "1", 1, false)),
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"one"}, res.AppliedRuleIDs())
}

func TestEngineOnlyNonDiscountedReproposes(t *testing.T) {
	engine, _ := newTestEngine(t, Settings{OnlyNonDiscounted: true}, PolicyApplyAll)
	cart := &Cart{Items: []*CartItem{
		item("a", simpleProduct(1, "10"), 1, "10"),
		item("b", simpleProduct(2, "10"), 1, "10"),
	}}

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{
		mustRule(t, bundleConfig("first", FixedDiscount, "1", 1, false)),
		mustRule(t, bundleConfig("second", FixedDiscount, "1", 1, false)),
	}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	require.Equal(t, []string{"a"}, res.Applied[0].ItemKeys)
	require.Equal(t, []string{"b"}, res.Applied[1].ItemKeys, "discounted item is skipped by the second rule")
}

func TestEngineDropsBundledComponents(t *testing.T) {
	engine, _ := newTestEngine(t, Settings{}, PolicyApplyAll, DropBundledComponents)
	component := item("component", simpleProduct(2, "5"), 3, "5")
	component.BundleParentID = "parent"
	cart := &Cart{Items: []*CartItem{component, item("a", simpleProduct(1, "10"), 1, "10")}}

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{mustRule(t, bundleConfig("r", FixedDiscount, "1", 1, false))}})
	require.NoError(t, err)
	require.Len(t, res.Cart.Items, 1)
	require.Equal(t, []string{"a"}, res.Applied[0].ItemKeys)
}

func TestEngineCollectsEncouragements(t *testing.T) {
	engine, rec := newTestEngine(t, Settings{}, PolicyApplyAll)
	cfg := bundleConfig("threshold", PercentageDiscount, "10", 1, false)
	cfg.Conditions = subtotalAtLeast("100")
	cart := &Cart{Items: []*CartItem{item("a", simpleProduct(1, "20"), 1, "20")}}

	res, err := engine.Price(Request{Cart: cart, Rules: []Rule{mustRule(t, cfg)}})
	require.NoError(t, err)
	require.Empty(t, res.Applied)
	require.Len(t, res.Encouragements, 1)
	requireMoney(t, "80", res.Encouragements[0].Conditions[0].Shortfall)
	require.Equal(t, 1, rec.proposed[false])
	requireMoney(t, "0", res.Summary.Discount)
}

func TestEngineLogsPassSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	engine, err := NewEngine(EngineConfig{Matcher: NewMatcher(nil, nil, Settings{}), Logger: &logger})
	require.NoError(t, err)

	_, err = engine.Price(Request{Cart: &Cart{Items: []*CartItem{item("a", simpleProduct(1, "10"), 1, "10")}}})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "pricing pass complete")
}

func TestParsePolicy(t *testing.T) {
	require.Equal(t, PolicyFirstMatch, ParsePolicy("first"))
	require.Equal(t, PolicyApplyAll, ParsePolicy(""))
	require.Equal(t, PolicyApplyAll, ParsePolicy("whatever"))
}
