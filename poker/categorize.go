package poker

// HoleCardCategory is a coarse preflop strength bucket
type HoleCardCategory string

const (
	CategoryPremium HoleCardCategory = "Premium"
	CategoryStrong  HoleCardCategory = "Strong"
	CategoryMedium  HoleCardCategory = "Medium"
	CategoryWeak    HoleCardCategory = "Weak"
	CategoryTrash   HoleCardCategory = "Trash"
	CategoryUnknown HoleCardCategory = "Unknown"
)

// CategorizeHoleCards buckets a starting hand.
// Premium: JJ+, AK. Strong: TT, AQ, AJ. Medium: 77-99, suited broadway.
// Weak: 22-66, suited connectors and one-gappers. Everything else is trash.
func CategorizeHoleCards(a, b Card) HoleCardCategory {
	if !a.IsValid() || !b.IsValid() || a == b {
		return CategoryUnknown
	}

	low, high := a.Rank, b.Rank
	if low > high {
		low, high = high, low
	}
	pair := low == high
	suited := a.Suit == b.Suit

	switch {
	case pair && low >= Jack, low == King && high == Ace:
		return CategoryPremium
	case pair && low == Ten, high == Ace && (low == Queen || low == Jack):
		return CategoryStrong
	case pair && low >= Seven, suited && low >= Ten:
		return CategoryMedium
	case pair, suited && high-low <= 2:
		return CategoryWeak
	}
	return CategoryTrash
}

// Category returns the preflop bucket of two seen hole cards
func Category(hole []Card) HoleCardCategory {
	if len(hole) != 2 {
		return CategoryUnknown
	}
	return CategorizeHoleCards(hole[0], hole[1])
}
