package matchmaking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedAffinityIsSymmetric(t *testing.T) {
	for _, a := range AllNeeds {
		for _, b := range AllNeeds {
			assert.Equal(t, NeedAffinity(a, b), NeedAffinity(b, a), "pair (%s, %s)", a, b)
		}
	}
}

func TestNeedAffinityIdenticalNeedsScoreMax(t *testing.T) {
	for _, n := range AllNeeds {
		assert.Equal(t, maxNeedAffinity, NeedAffinity(n, n), "need %s", n)
	}
}

func TestNeedAffinityWithinRange(t *testing.T) {
	for _, a := range AllNeeds {
		for _, b := range AllNeeds {
			v := NeedAffinity(a, b)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, maxNeedAffinity)
		}
	}
}

func TestNeedAffinityUnknownNeedScoresZero(t *testing.T) {
	assert.Zero(t, NeedAffinity("astral-projection", NeedFriendship))
	assert.Zero(t, NeedAffinity(NeedFriendship, "astral-projection"))
	assert.Zero(t, NeedAffinity("", ""))
}

func TestCategoryWeightsWithinRange(t *testing.T) {
	for c, w := range categoryWeights {
		assert.GreaterOrEqual(t, w, 0.9, "category %s", c)
		assert.LessOrEqual(t, w, 1.4, "category %s", c)
	}
}

func TestEveryInterestMapsToWeightedCategory(t *testing.T) {
	for interest, category := range interestCategories {
		_, ok := categoryWeights[category]
		assert.True(t, ok, "interest %q maps to unweighted category %q", interest, category)
	}
}

func TestCategoryOfNormalizesInput(t *testing.T) {
	c, ok := CategoryOf("  TRAVEL ")
	assert.True(t, ok)
	assert.Equal(t, CategoryTravel, c)

	_, ok = CategoryOf("underwater-basket-weaving")
	assert.False(t, ok)
}

func TestCategoryWeightUnknownIsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, CategoryWeight("nonexistent"))
}
