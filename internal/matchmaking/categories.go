package matchmaking

import "strings"

// Category is the single source of truth for interest grouping. Every
// scoreable interest string maps to exactly one category, and every category
// carries a fixed weight applied to shared-interest points.
type Category string

const (
	CategoryTravel        Category = "travel"
	CategoryFitness       Category = "fitness"
	CategorySocial        Category = "social"
	CategoryOutdoors      Category = "outdoors"
	CategoryCreative      Category = "creative"
	CategoryMusic         Category = "music"
	CategoryFood          Category = "food"
	CategoryTechnology    Category = "technology"
	CategoryGaming        Category = "gaming"
	CategoryLearning      Category = "learning"
	CategoryLifestyle     Category = "lifestyle"
	CategoryEntertainment Category = "entertainment"
)

// categoryWeights range 0.9-1.4; travel, fitness and social interests are
// the strongest compatibility signals.
var categoryWeights = map[Category]float64{
	CategoryTravel:        1.4,
	CategoryFitness:       1.3,
	CategorySocial:        1.3,
	CategoryOutdoors:      1.2,
	CategoryCreative:      1.15,
	CategoryMusic:         1.1,
	CategoryFood:          1.1,
	CategoryTechnology:    1.05,
	CategoryGaming:        1.0,
	CategoryLearning:      1.0,
	CategoryLifestyle:     0.95,
	CategoryEntertainment: 0.9,
}

// interestCategories tags the recognized interest vocabulary. Interests the
// table does not know still score, at neutral weight 1.0.
var interestCategories = map[string]Category{
	"travel":       CategoryTravel,
	"backpacking":  CategoryTravel,
	"roadtrips":    CategoryTravel,
	"vanlife":      CategoryTravel,
	"gym":          CategoryFitness,
	"running":      CategoryFitness,
	"yoga":         CategoryFitness,
	"swimming":     CategoryFitness,
	"cycling":      CategoryFitness,
	"crossfit":     CategoryFitness,
	"volunteering": CategorySocial,
	"parties":      CategorySocial,
	"dancing":      CategorySocial,
	"meetups":      CategorySocial,
	"hiking":       CategoryOutdoors,
	"camping":      CategoryOutdoors,
	"nature":       CategoryOutdoors,
	"surfing":      CategoryOutdoors,
	"skiing":       CategoryOutdoors,
	"climbing":     CategoryOutdoors,
	"photography":  CategoryCreative,
	"art":          CategoryCreative,
	"painting":     CategoryCreative,
	"writing":      CategoryCreative,
	"design":       CategoryCreative,
	"music":        CategoryMusic,
	"concerts":     CategoryMusic,
	"singing":      CategoryMusic,
	"festivals":    CategoryMusic,
	"guitar":       CategoryMusic,
	"cooking":      CategoryFood,
	"baking":       CategoryFood,
	"coffee":       CategoryFood,
	"wine":         CategoryFood,
	"foodie":       CategoryFood,
	"coding":       CategoryTechnology,
	"gadgets":      CategoryTechnology,
	"robotics":     CategoryTechnology,
	"gaming":       CategoryGaming,
	"boardgames":   CategoryGaming,
	"chess":        CategoryGaming,
	"reading":      CategoryLearning,
	"languages":    CategoryLearning,
	"science":      CategoryLearning,
	"history":      CategoryLearning,
	"fashion":      CategoryLifestyle,
	"wellness":     CategoryLifestyle,
	"meditation":   CategoryLifestyle,
	"pets":         CategoryLifestyle,
	"movies":       CategoryEntertainment,
	"series":       CategoryEntertainment,
	"anime":        CategoryEntertainment,
	"standup":      CategoryEntertainment,
}

// CategoryOf resolves an interest string to its category.
func CategoryOf(interest string) (Category, bool) {
	c, ok := interestCategories[strings.ToLower(strings.TrimSpace(interest))]
	return c, ok
}

// CategoryWeight returns the weight for c, or 1.0 for an unknown category.
func CategoryWeight(c Category) float64 {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return 1.0
}

// Need is one entry of the fixed 12-word needs vocabulary.
type Need string

const (
	NeedFriendship       Need = "friendship"
	NeedDating           Need = "dating"
	NeedSerious          Need = "serious-relationship"
	NeedCasual           Need = "casual"
	NeedTravelBuddy      Need = "travel-buddy"
	NeedWorkoutPartner   Need = "workout-partner"
	NeedStudyPartner     Need = "study-partner"
	NeedNetworking       Need = "networking"
	NeedMentorship       Need = "mentorship"
	NeedEmotionalSupport Need = "emotional-support"
	NeedLanguageExchange Need = "language-exchange"
	NeedRoommate         Need = "roommate"
)

// AllNeeds lists the vocabulary in a fixed order.
var AllNeeds = []Need{
	NeedFriendship, NeedDating, NeedSerious, NeedCasual,
	NeedTravelBuddy, NeedWorkoutPartner, NeedStudyPartner, NeedNetworking,
	NeedMentorship, NeedEmotionalSupport, NeedLanguageExchange, NeedRoommate,
}

// maxNeedAffinity is the matrix maximum; identical needs always score it.
const maxNeedAffinity = 10.0

// needAffinity stores the upper triangle of the symmetric 12x12 matrix,
// values 0-10. NeedAffinity checks both orderings, so the table is written
// once per unordered pair.
var needAffinity = map[Need]map[Need]float64{
	NeedFriendship: {
		NeedFriendship: 10, NeedDating: 5, NeedSerious: 4, NeedCasual: 4,
		NeedTravelBuddy: 7, NeedWorkoutPartner: 7, NeedStudyPartner: 6, NeedNetworking: 5,
		NeedMentorship: 5, NeedEmotionalSupport: 8, NeedLanguageExchange: 6, NeedRoommate: 6,
	},
	NeedDating: {
		NeedDating: 10, NeedSerious: 7, NeedCasual: 6, NeedTravelBuddy: 5,
		NeedWorkoutPartner: 4, NeedStudyPartner: 2, NeedNetworking: 2, NeedMentorship: 1,
		NeedEmotionalSupport: 4, NeedLanguageExchange: 3, NeedRoommate: 2,
	},
	NeedSerious: {
		NeedSerious: 10, NeedCasual: 1, NeedTravelBuddy: 4, NeedWorkoutPartner: 3,
		NeedStudyPartner: 2, NeedNetworking: 2, NeedMentorship: 1, NeedEmotionalSupport: 5,
		NeedLanguageExchange: 2, NeedRoommate: 2,
	},
	NeedCasual: {
		NeedCasual: 10, NeedTravelBuddy: 5, NeedWorkoutPartner: 3, NeedStudyPartner: 1,
		NeedNetworking: 1, NeedMentorship: 0, NeedEmotionalSupport: 2,
		NeedLanguageExchange: 2, NeedRoommate: 1,
	},
	NeedTravelBuddy: {
		NeedTravelBuddy: 10, NeedWorkoutPartner: 5, NeedStudyPartner: 2, NeedNetworking: 3,
		NeedMentorship: 1, NeedEmotionalSupport: 3, NeedLanguageExchange: 6, NeedRoommate: 3,
	},
	NeedWorkoutPartner: {
		NeedWorkoutPartner: 10, NeedStudyPartner: 3, NeedNetworking: 3, NeedMentorship: 3,
		NeedEmotionalSupport: 2, NeedLanguageExchange: 1, NeedRoommate: 3,
	},
	NeedStudyPartner: {
		NeedStudyPartner: 10, NeedNetworking: 5, NeedMentorship: 7,
		NeedEmotionalSupport: 3, NeedLanguageExchange: 7, NeedRoommate: 4,
	},
	NeedNetworking: {
		NeedNetworking: 10, NeedMentorship: 8, NeedEmotionalSupport: 2,
		NeedLanguageExchange: 4, NeedRoommate: 2,
	},
	NeedMentorship: {
		NeedMentorship: 10, NeedEmotionalSupport: 4, NeedLanguageExchange: 5, NeedRoommate: 1,
	},
	NeedEmotionalSupport: {
		NeedEmotionalSupport: 10, NeedLanguageExchange: 3, NeedRoommate: 3,
	},
	NeedLanguageExchange: {
		NeedLanguageExchange: 10, NeedRoommate: 2,
	},
	NeedRoommate: {
		NeedRoommate: 10,
	},
}

// NeedAffinity returns the matrix value for the unordered pair (a, b).
// Unknown needs score 0.
func NeedAffinity(a, b Need) float64 {
	if row, ok := needAffinity[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := needAffinity[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	return 0
}
