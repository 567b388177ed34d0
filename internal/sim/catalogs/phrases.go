package catalogs

// Moods reported alongside narrative thoughts.
const (
	MoodOptimistic    = "optimistic"
	MoodFocused       = "focused"
	MoodTired         = "tired"
	MoodProud         = "proud"
	MoodPhilosophical = "philosophical"
)

var phrases = [numCategories][]string{
	Residential: {
		"Every home I build is a promise of safety.",
		"Population growing... the colony thrives.",
		"More families will sleep under a real roof tonight.",
	},
	Commercial: {
		"A market opens. Trade means the colony is more than surviving.",
		"Somebody will sell the first coffee on this planet here.",
	},
	Industrial: {
		"The fabricators hum. We can make what we need now.",
		"Heavy work, kept far from the houses.",
	},
	Power: {
		"Power systems coming online...",
		"More panels, more light. The grid breathes easier.",
	},
	Water: {
		"Water is life. Must ensure supply.",
		"The reservoir fills. One less thing to worry about.",
	},
	Food: {
		"Green shoots under the dome. Nobody goes hungry.",
		"Another farm. The harvest schedule looks better already.",
	},
	Eco: {
		"The air scrubbers kick in. Every breath counts out here.",
	},
	Park: {
		"A little green between the towers. People need that.",
		"Trees on a dead world. I like the sound of that.",
	},
	Road: {
		"Roads tie the districts together.",
		"A new artery. The builder will thank me later.",
	},
}

var defaultPhrases = []string{
	"One more piece of the colony in place.",
	"Step by step, from nothing to something.",
}

// Phrases returns the fallback thoughts for a category. Unknown categories get the default table.
func Phrases(c Category) []string {
	if c.Valid() && len(phrases[c]) > 0 {
		return phrases[c]
	}
	return defaultPhrases
}

// MoodFor maps the dominant recent category and build count onto a mood.
func MoodFor(c Category, totalBuilds int) string {
	switch {
	case totalBuilds > 0 && totalBuilds%100 == 0:
		return MoodProud
	case c.Infrastructure():
		return MoodFocused
	case c == Park:
		return MoodPhilosophical
	case c.Valid():
		return MoodOptimistic
	}
	return MoodTired
}
