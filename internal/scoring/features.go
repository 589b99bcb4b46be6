package scoring

// Features is the fixed schema extracted from a participant's messages.
// Counts are absolute; Coherence and NaturalFlow are 0–100.
type Features struct {
	GrammarErrors        int `json:"grammarErrors"`
	SpellingErrors       int `json:"spellingErrors"`
	PunctuationErrors    int `json:"punctuationErrors"`
	CapitalizationErrors int `json:"capitalizationErrors"`
	ArticleErrors        int `json:"articleErrors"`

	GibberishWords int `json:"gibberishWords"`
	ValidWords     int `json:"validWords"`

	BasicWords        int `json:"basicWords"`
	IntermediateWords int `json:"intermediateWords"`
	AdvancedWords     int `json:"advancedWords"`

	AwkwardPhrases     int `json:"awkwardPhrases"`
	IncompleteThoughts int `json:"incompleteThoughts"`

	Coherence   float64 `json:"coherence"`
	NaturalFlow float64 `json:"naturalFlow"`

	CompleteResponses int `json:"completeResponses"`
	ComplexResponses  int `json:"complexResponses"`
	TotalResponses    int `json:"totalResponses"`

	Feedback string `json:"feedback"`
}

// DefaultCoherence is assumed for coherence and flow when nothing better is known.
const DefaultCoherence = 70

// DefaultFeatures is the conservative feature set used when extraction fails:
// no errors, every word valid and basic, every message a complete response.
func DefaultFeatures(st Stats) Features {
	return Features{
		ValidWords:        st.TotalWords,
		BasicWords:        st.TotalWords,
		Coherence:         DefaultCoherence,
		NaturalFlow:       DefaultCoherence,
		CompleteResponses: st.TotalMessages,
		TotalResponses:    st.TotalMessages,
		Feedback:          "Keep chatting to get detailed feedback.",
	}
}

// wireFeatures mirrors Features with optional scores so a missing value can
// be told apart from an explicit zero.
type wireFeatures struct {
	Features
	Coherence   *float64 `json:"coherence"`
	NaturalFlow *float64 `json:"naturalFlow"`
}

func (w wireFeatures) features() Features {
	f := w.Features
	f.Coherence, f.NaturalFlow = DefaultCoherence, DefaultCoherence
	if w.Coherence != nil {
		f.Coherence = *w.Coherence
	}
	if w.NaturalFlow != nil {
		f.NaturalFlow = *w.NaturalFlow
	}
	return f
}

// Sanitize clamps model output into a consistent feature set: negative
// counts become zero, scores are clamped to 0–100, and totals the model left
// out are backfilled from st.
func (f Features) Sanitize(st Stats) Features {
	for _, p := range []*int{
		&f.GrammarErrors, &f.SpellingErrors, &f.PunctuationErrors, &f.CapitalizationErrors,
		&f.ArticleErrors, &f.GibberishWords, &f.ValidWords, &f.BasicWords, &f.IntermediateWords,
		&f.AdvancedWords, &f.AwkwardPhrases, &f.IncompleteThoughts, &f.CompleteResponses,
		&f.ComplexResponses, &f.TotalResponses,
	} {
		if *p < 0 {
			*p = 0
		}
	}
	f.Coherence = clamp(f.Coherence, 0, 100)
	f.NaturalFlow = clamp(f.NaturalFlow, 0, 100)

	if f.TotalResponses == 0 {
		f.TotalResponses = st.TotalMessages
	}
	if f.ValidWords == 0 && f.GibberishWords == 0 {
		f.ValidWords = st.TotalWords
	}
	if st.TotalWords > 0 {
		f.GibberishWords = min(f.GibberishWords, st.TotalWords)
		f.ValidWords = min(f.ValidWords, st.TotalWords-f.GibberishWords)
	}
	if f.BasicWords+f.IntermediateWords+f.AdvancedWords == 0 {
		f.BasicWords = f.ValidWords
	}
	if f.TotalResponses > 0 {
		f.CompleteResponses = min(f.CompleteResponses, f.TotalResponses)
		f.ComplexResponses = min(f.ComplexResponses, f.TotalResponses)
	}
	return f
}
