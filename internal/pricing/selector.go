package pricing

// SelectEligible walks items in cart order and returns the whole items that
// match, stopping as soon as the accumulated quantity reaches required. It
// returns nil when nothing matched or the matched quantity falls short.
func SelectEligible(items []*CartItem, required int, match func(*CartItem) bool) []*CartItem {
	if required < 1 {
		required = 1
	}
	var (
		selected    []*CartItem
		accumulated int
	)
	for _, it := range items {
		if accumulated >= required {
			break
		}
		if match != nil && match(it) {
			selected = append(selected, it)
			accumulated += it.Quantity
		}
	}
	if len(selected) == 0 || accumulated < required {
		return nil
	}
	return selected
}
