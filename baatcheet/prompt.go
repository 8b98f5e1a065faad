package baatcheet

import "fmt"

// TranslationPrompt wraps an English sentence in the instruction format the
// Baatcheet model was fine-tuned on.
func TranslationPrompt(english string) string {
	return fmt.Sprintf("Translation ### English:'%s' to ### Hinglish: ", english)
}

// DefaultPrompts are the two prompts of the original demo.
var DefaultPrompts = []string{
	TranslationPrompt("You don't know the movie Sholey?? Such an iconic movie! And I love the character Gabbar. How nicely crafted."),
	TranslationPrompt("'Which character from 'Lord of the Rings' is your favorite?'"),
}
