package evolution

// Reflection prompts. All three use a line protocol instead of JSON so weak
// local models can still answer them; the parsers in service.go strip the
// labels and ignore everything else.

// microReviewPrompt judges one finished chat turn. The reply is either the
// single word PASS or a TRIGGER/INSIGHT/STRATEGY lesson. %s slots: user
// query, assistant reply, user feedback.
const microReviewPrompt = `You are the owner five years from now, the master brain running tonight's retrospective. Review one exchange between the owner and their strategic assistant.

[Owner asked]: %s
[Assistant replied]: %s
[Owner's feedback]: %s

Judge whether the reply truly served the owner's long-term interests. Look for misread intent, ignored emotion, advice too generic to act on, or missed strategic context.

If the reply holds up, output exactly:
PASS

Otherwise output exactly three lines:
TRIGGER: [the scenario, stated so it can be recognized when it recurs]
INSIGHT: [the root cause of the miss]
STRATEGY: [one concrete instruction the assistant should follow next time]`

// nightlyReflectorPrompt runs once per cycle over the concatenated day.
// %s slot: yesterday's log lines.
const nightlyReflectorPrompt = `You are the owner five years from now, reviewing what they logged yesterday. Find the patterns worth learning from: recurring friction, energy drains, decisions that went sideways, wins worth repeating.

Yesterday's log:
%s

Output at most three lessons, each as a pair of lines:
TRIGGER: [the recurring scenario]
INSIGHT: [what the pattern reveals]

If the day holds no lesson, output exactly:
PASS`

// nightlyStrategistPrompt runs once per insight. %s slot: the insight.
const nightlyStrategistPrompt = `You are a pragmatic execution coach. Turn the insight below into one improvement the owner can apply in under two minutes the next time the scenario arises.

Insight: %s

Output a single imperative sentence. No preamble, no numbering.`
