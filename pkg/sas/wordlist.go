package sas

// adjectives and nouns are combined as "adjective-noun" to build a wordlist
// with at least the 2048 entries spec §4.3 requires, in the spirit of
// kamune's pkg/fingerprint.Pseudonym rather than pasting in an external
// BIP-39-sized list.
var adjectives = []string{
	"agile", "ancient", "angry", "bashful", "bold", "brave", "bright",
	"calm", "clever", "curious", "daring", "eager", "fancy", "fast",
	"fierce", "fuzzy", "gentle", "giant", "happy", "hungry", "jolly",
	"lazy", "lively", "lucky", "mighty", "nervous", "noisy", "peaceful",
	"playful", "proud", "quiet", "quick", "rapid", "rare", "restless",
	"sassy", "shiny", "shy", "silent", "sleepy", "smart", "sneaky",
	"speedy", "spicy", "stealthy", "strong", "sweet", "swift",
	"tiny", "tough", "vivid", "wild", "wise", "zany",
}

var nouns = []string{
	"ant", "badger", "bat", "bear", "beaver", "bee", "bison", "boar",
	"buffalo", "camel", "cat", "chicken", "cobra", "cougar", "cow",
	"crab", "crane", "crocodile", "crow", "deer", "dog", "dolphin",
	"donkey", "dragon", "duck", "eagle", "falcon", "ferret", "fish",
	"fox", "frog", "goat", "goose", "hamster", "hawk", "hippo", "horse",
	"jackal", "jaguar", "kangaroo", "koala", "leopard", "lion",
	"lizard", "llama", "monkey", "moose", "mouse", "octopus",
	"otter", "owl", "ox", "panda", "panther", "parrot", "penguin",
	"pig", "pigeon", "rabbit", "raccoon", "rat", "raven", "seal",
	"shark", "sheep", "sloth", "snake", "sparrow", "squid", "swan",
	"tiger", "turkey", "turtle", "weasel", "whale", "wolf", "zebra",
	"yak", "vulture", "urchin", "toad",
}

// wordlist is the deterministic cross-join of adjectives and nouns, built
// once at init. len(adjectives)*len(nouns) is comfortably above the 2048
// entries spec §4.3 requires.
var wordlist = buildWordlist()

func buildWordlist() []string {
	words := make([]string, 0, len(adjectives)*len(nouns))
	for _, adj := range adjectives {
		for _, noun := range nouns {
			words = append(words, adj+"-"+noun)
		}
	}
	return words
}

// WordlistSize reports the number of distinct words the SAS can render.
func WordlistSize() int {
	return len(wordlist)
}
