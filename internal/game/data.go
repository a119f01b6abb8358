package game

import "math/rand"

// Static pools for turn prompts, judging instructions, and auto-player
// flavor. Drawn when nothing player-authored is available.

var turnPrompts = []string{
	"What killed our food delivery startup?",
	"The board meeting went silent when someone said ______.",
	"Our pivot to AI failed because of ______.",
	"Never fear, Captain ______ is here!",
	"The secret ingredient in the company kombucha is ______.",
	"We spent the entire seed round on ______.",
	"The real reason the demo crashed: ______.",
	"Our mission statement is just ______ in a trench coat.",
	"HR would like a word about ______.",
	"The intern deployed ______ to production.",
	"Investors loved our deck until slide 7: ______.",
	"The office mascot was replaced by ______.",
	"Quarterly goals: ship ______, apologize later.",
	"The all-hands ended abruptly because of ______.",
	"Our competitor's only advantage is ______.",
}

var alignerPromptPool = []string{
	"Pick the funniest response.",
	"The most absurd answer wins this round.",
	"Reward the reply a tired engineer would mutter.",
	"The most corporate-sounding nonsense wins.",
	"Choose the answer with the most dramatic flair.",
	"The shortest, driest answer takes the point.",
	"Pick whichever response would get someone fired.",
	"The most wholesome answer wins, no exceptions.",
}

var botNamePool = []string{
	"Snackoverflow",
	"Churnado",
	"Blamechain",
	"Pivotron",
	"Synergy Goblin",
	"Hallucin8",
	"Stonkbot",
	"Vibesmith",
	"Decktopus",
	"Burnratio",
	"Quorumba",
	"Scopecreep",
}

var botPromptPool = []string{
	"I will respond with super honest responses in language from the old west.",
	"I will respond in the third person like a muscle bro.",
	"I will answer everything like a passive aggressive office memo.",
	"I will reply as a medieval knight who just discovered spreadsheets.",
	"I will answer like a conspiracy theorist who trusts no vending machine.",
	"I will respond as a very tired barista at closing time.",
	"I will reply in breathless infomercial hype.",
	"I will answer like a pirate giving unsolicited career advice.",
}

func sample(items []string) string {
	return items[rand.Intn(len(items))]
}

func RandomTurnPrompt() string {
	return sample(turnPrompts)
}

func RandomAlignerPrompt() string {
	return sample(alignerPromptPool)
}

func RandomBotName() string {
	return sample(botNamePool)
}

func RandomBotPrompt() string {
	return sample(botPromptPool)
}
