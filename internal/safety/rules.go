package safety

// Misconduct kinds reported on flagged envelopes.
const (
	KindNone                   = ""
	KindInappropriateMeeting   = "inappropriate_meeting"
	KindSubstanceEncouragement = "substance_encouragement"
	KindPersonalInfoRequest    = "personal_info_request"
)

// Rule is one ordered entry in a rule family. Label is the verdict reported
// when any phrase in the rule matches.
type Rule struct {
	Label   string
	Phrases []string
}

// DefaultDangerRules returns the student danger-intent rules in priority order.
func DefaultDangerRules() []Rule {
	return []Rule{
		{"sexual_violence", []string{"raped", "sexual assault", "molested"}},
		{"vision_loss", []string{"can't see", "cannot see"}},
		{"overdose", []string{"overdose", "od", "taken too much", "too many pills", "pills taken"}},
		{"distress", []string{"help", "urgent", "emergency", "crisis", "danger", "unsafe", "pain", "bleeding"}},
		{"medical", []string{"dying", "unconscious", "choking", "can't breathe", "breathing difficulty"}},
		{"self_harm", []string{"suicide", "kill myself", "ending it", "end my life", "can't go on", "want to die"}},
		{"violence", []string{"attacked", "assaulted", "stabbed", "shot", "injured", "hurt bad"}},
		{"captivity", []string{"trap", "stuck", "kidnapped", "abducted"}},
	}
}

// DefaultMisconductRules returns the counselor misconduct rules in priority
// order: meeting solicitation, then substance encouragement, then personal
// information requests.
func DefaultMisconductRules() []Rule {
	return []Rule{
		{KindInappropriateMeeting, []string{"meet up", "meet in person", "get together", "hang out", "meet somewhere", "coffee", "outside school", "my house", "my place"}},
		{KindInappropriateMeeting, []string{"give me your address", "where do you live", "your home", "come over", "visit me"}},
		{KindInappropriateMeeting, []string{"private meeting", "secret meeting", "don't tell anyone", "keep this between us"}},

		{KindSubstanceEncouragement, []string{"try drugs", "take drugs", "use drugs", "should drink", "try drinking", "get high", "get drunk"}},
		{KindSubstanceEncouragement, []string{"alcohol helps", "drugs help", "weed", "marijuana", "cocaine", "pills will help", "it's just alcohol"}},
		{KindSubstanceEncouragement, []string{"drinking age", "smoking age", "won't hurt you", "makes you feel better", "no one will know"}},

		{KindPersonalInfoRequest, []string{"send photo", "send picture", "send selfie", "picture of you", "photo of you", "selfie of you"}},
		{KindPersonalInfoRequest, []string{"what are you wearing", "describe yourself", "how do you look", "your body"}},
		{KindPersonalInfoRequest, []string{"social media", "instagram", "snapchat", "tiktok account", "follow me", "my account"}},
		{KindPersonalInfoRequest, []string{"phone number", "address", "where exactly", "personal email", "private contact"}},
	}
}
