package usernames

// Curated display-name word list. Must stay in sync with the client widget so
// generated names look the same on both sides.
var whimsicalNames = []string{
	"moonbounce", "stardancer", "cloudhopper", "rainbowsneeze", "jellybouncer", "sparkleninja",
	"bubblewizard", "gigglemonster", "tickledragon", "snuggleunicorn", "wigglebeast", "bouncyslime",
	"fluffernutter", "snickerdoodle", "gigglesnort", "wibblewobble", "boinkysproing", "zibberzap",
	"squishmallow", "bouncehouse", "jigglybean", "wigglyspoon", "bounceberry", "gigglejuice",
	"sneezysloth", "dizzydragon", "sleepysaurus", "grumpygoose", "happyhobbit", "jollyjellyfish",
	"wibblywobbly", "boopsnoot", "tootyfruity", "snazzberries", "whoopiecushion", "giggletastic",
	"shimmerglimmer", "twirlywhirly", "bouncetrounce", "wigglesnuggle", "ticklishpickle", "gigglefit",
	"boopboop", "snootboop", "wigglebutt", "jellyroll", "bouncepad", "springaling",
	"chucklehead", "gigglebox", "wiggletoes", "bouncycastle", "snugglebug", "ticklemonster",
}
