package poker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeHoleCards(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want HoleCardCategory
	}{
		{"pocket aces", "As", "Ah", CategoryPremium},
		{"pocket jacks", "Jh", "Jd", CategoryPremium},
		{"ace king offsuit", "Ac", "Kh", CategoryPremium},
		{"pocket tens", "Tc", "Th", CategoryStrong},
		{"ace queen", "Qh", "Ac", CategoryStrong},
		{"ace jack suited", "As", "Js", CategoryStrong},
		{"pocket sevens", "7h", "7c", CategoryMedium},
		{"king queen suited", "Ks", "Qs", CategoryMedium},
		{"queen jack suited", "Qd", "Jd", CategoryMedium},
		{"pocket twos", "2c", "2h", CategoryWeak},
		{"suited connector", "7h", "6h", CategoryWeak},
		{"suited one-gapper", "5d", "3d", CategoryWeak},
		{"king queen offsuit", "Kc", "Qh", CategoryTrash},
		{"seven two offsuit", "7c", "2h", CategoryTrash},
		{"jack four offsuit", "Jh", "4c", CategoryTrash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeHoleCards(MustParseCard(tt.a), MustParseCard(tt.b)))
		})
	}
}

func TestCategoryInvalid(t *testing.T) {
	assert.Equal(t, CategoryUnknown, Category(nil))
	assert.Equal(t, CategoryUnknown, Category([]Card{MustParseCard("As")}))
	assert.Equal(t, CategoryUnknown, CategorizeHoleCards(MustParseCard("As"), MustParseCard("As")))
	assert.Equal(t, CategoryUnknown, CategorizeHoleCards(Card{}, MustParseCard("As")))
	assert.Equal(t, CategoryPremium, Category([]Card{MustParseCard("Kd"), MustParseCard("Ad")}))
}
