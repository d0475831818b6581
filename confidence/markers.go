package confidence

// DefaultMarkers returns the stock uncertainty phrase catalogue. Weights
// reflect how strongly each phrase correlates with hedged output.
func DefaultMarkers() []MarkerPattern {
	return []MarkerPattern{
		// Hedging
		{Phrase: "i think", Weight: 0.3, Category: CategoryHedging},
		{Phrase: "i believe", Weight: 0.25, Category: CategoryHedging},
		{Phrase: "maybe", Weight: 0.25, Category: CategoryHedging},
		{Phrase: "possibly", Weight: 0.25, Category: CategoryHedging},
		{Phrase: "perhaps", Weight: 0.2, Category: CategoryHedging},
		{Phrase: "might be", Weight: 0.2, Category: CategoryHedging},
		{Phrase: "could be", Weight: 0.2, Category: CategoryHedging},
		{Phrase: "not sure", Weight: 0.4, Category: CategoryHedging},
		{Phrase: "not certain", Weight: 0.4, Category: CategoryHedging},
		{Phrase: "it seems", Weight: 0.2, Category: CategoryHedging},

		// Speculation
		{Phrase: "i speculate", Weight: 0.5, Category: CategorySpeculation},
		{Phrase: "hypothetically", Weight: 0.4, Category: CategorySpeculation},
		{Phrase: "i guess", Weight: 0.35, Category: CategorySpeculation},
		{Phrase: "i imagine", Weight: 0.3, Category: CategorySpeculation},
		{Phrase: "presumably", Weight: 0.3, Category: CategorySpeculation},
		{Phrase: "it's possible that", Weight: 0.3, Category: CategorySpeculation},

		// Limitation
		{Phrase: "i don't have access", Weight: 0.45, Category: CategoryLimitation},
		{Phrase: "i cannot verify", Weight: 0.4, Category: CategoryLimitation},
		{Phrase: "i can't verify", Weight: 0.4, Category: CategoryLimitation},
		{Phrase: "you should consult", Weight: 0.35, Category: CategoryLimitation},
		{Phrase: "as of my knowledge", Weight: 0.3, Category: CategoryLimitation},
		{Phrase: "i'm unable to", Weight: 0.3, Category: CategoryLimitation},
	}
}
