package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// REPL banner
	"banner.header":      "nox · model %s · %s",
	"banner.help":        "type /help for commands",
	"banner.dev":         "developer mode on",
	"banner.resumed":     "resumed %s (%d turns)",
	"instruments.none":   "no instruments",
	"instruments.manual": "manual instruments (%s)",
	"instruments.auto":   "automated instruments (%s)",

	// REPL prompts
	"prompt.input":      "> ",
	"prompt.result":     "result> ",
	"prompt.confirm":    "%s [y/N]: ",
	"prompt.select":     "Which instrument should answer?",
	"prompt.select_in":  "instrument [number, label, empty for any]: ",
	"prompt.passphrase": "developer passphrase: ",

	// Reply rendering
	"reply.title":    "title: %s",
	"reply.asked":    "asked %s: %s",
	"reply.any":      "any",
	"reply.shell":    "(/shell to run)",
	"reply.error":    "error: %s",
	"select.range":   "pick 1-%d",
	"select.unknown": "%q is not in the roster",

	// Developer mode
	"dev.unconfigured": "developer mode is not configured (developer.passphrase)",
	"dev.wrong":        "developer mode: wrong passphrase",

	// Misc
	"input.fallback": "line editor unavailable, fallback to basic input: %v",
	"router.started": "routing %s (ctrl+c to stop)",
	"router.handled": "handled %d requests",
}
