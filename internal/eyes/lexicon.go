package eyes

import "regexp"

// Fixed lexicons used by the ambiguity and consistency scorers. These
// lists are part of the scoring contract: changing them changes scores,
// so tests pin the behavior of representative members.

// vagueWords inflate ambiguity: they describe quality without saying
// what would satisfy it.
var vagueWords = map[string]struct{}{
	"better":    {},
	"improve":   {},
	"improved":  {},
	"nice":      {},
	"nicer":     {},
	"good":      {},
	"great":     {},
	"clean":     {},
	"cleaner":   {},
	"faster":    {},
	"simple":    {},
	"simpler":   {},
	"easy":      {},
	"easier":    {},
	"modern":    {},
	"optimize":  {},
	"optimized": {},
	"enhance":   {},
	"polish":    {},
	"stuff":     {},
	"things":    {},
	"somehow":   {},
}

// unspecifiedWords signal the author knows a gap exists and left it open.
var unspecifiedWords = map[string]struct{}{
	"something":   {},
	"anything":    {},
	"whatever":    {},
	"someone":     {},
	"somewhere":   {},
	"sometime":    {},
	"unclear":     {},
	"unknown":     {},
	"unspecified": {},
	"undecided":   {},
	"tbd":         {},
}

// actionVerbs are the imperatives a well-formed task usually opens with.
var actionVerbs = map[string]struct{}{
	"add":       {},
	"build":     {},
	"change":    {},
	"configure": {},
	"convert":   {},
	"create":    {},
	"delete":    {},
	"deploy":    {},
	"document":  {},
	"extract":   {},
	"fix":       {},
	"implement": {},
	"make":      {},
	"migrate":   {},
	"move":      {},
	"refactor":  {},
	"remove":    {},
	"rename":    {},
	"replace":   {},
	"rewrite":   {},
	"split":     {},
	"test":      {},
	"update":    {},
	"upgrade":   {},
	"write":     {},
}

// questionBank is the ordered list the clarify eye draws from. The
// ambiguity score decides how many of these are emitted, never which.
var questionBank = []string{
	"What specific outcome should this task produce?",
	"Which files, components or systems are in scope?",
	"What does success look like, and how will it be verified?",
	"Are there constraints to honor, such as performance targets or compatibility?",
	"What inputs and outputs are expected? Examples help.",
	"Which existing behaviors must not change?",
	"If trade-offs arise, what has priority?",
	"Are there existing patterns or code this should follow?",
	"Which edge cases matter most?",
	"Who consumes the result, and in what environment?",
}

// polarityPairs are opposite-claim detectors for the consistency scorer.
// Both sides present in one document costs 0.3 per pair.
var polarityPairs = []struct {
	name        string
	left, right *regexp.Regexp
}{
	{"always/never", regexp.MustCompile(`(?i)\balways\b`), regexp.MustCompile(`(?i)\bnever\b`)},
	{"all/none", regexp.MustCompile(`(?i)\ball\b`), regexp.MustCompile(`(?i)\bnone\b`)},
	{"everything/nothing", regexp.MustCompile(`(?i)\beverything\b`), regexp.MustCompile(`(?i)\bnothing\b`)},
	{"increase/decrease", regexp.MustCompile(`(?i)\bincreas(?:e|es|ed|ing)\b`), regexp.MustCompile(`(?i)\bdecreas(?:e|es|ed|ing)\b`)},
	{"enable/disable", regexp.MustCompile(`(?i)\benabl(?:e|es|ed|ing)\b`), regexp.MustCompile(`(?i)\bdisabl(?:e|es|ed|ing)\b`)},
}

// unfinishedMarker flags work-in-progress text left in a submission.
var unfinishedMarker = regexp.MustCompile(`\b(TODO|TBD|FIXME)\b`)

// noChangeClaim and trendVerb together catch "no change" narratives that
// also report movement.
var (
	noChangeClaim = regexp.MustCompile(`(?i)\bno\s+change(?:s)?\b`)
	trendVerb     = regexp.MustCompile(`(?i)\b(grew|grow|grows|growing|rose|rise|rises|rising|climbed|climbs|doubled|increased|declined|declines|fell|falls|dropped|drops|shrank|shrinks|halved|decreased)\b`)
)
