package onboarding

import (
	"strings"

	"github.com/ashureev/brand-onboarding/internal/extract"
)

// WelcomeMessage greets a client when a session starts. It is not part of
// the chat history sent to the assistant.
const WelcomeMessage = "Welcome! I'll help you set up brand protection. Let's start with your brand name."

// AlreadyCompletedMessage answers any turn sent after completion.
const AlreadyCompletedMessage = "Onboarding is already completed!"

const persona = `You are a brand protection assistant helping a client set up protection for their brand.
Collect these details in a conversational way:
- Brand name
- Official website URL
- Brief brand description
- Social media handles (ask for platforms like Twitter/X, Facebook, Instagram, LinkedIn, etc.)
- Key brand terms and phrases (including product names, slogans, etc.)

Be friendly and conversational. Once you have collected all the information, let the user know
that the onboarding is complete and they will proceed to the next step.`

// DefaultInstructions returns the persona followed by the structured block
// format instructions.
func DefaultInstructions() string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(extract.FormatInstructions())
	return b.String()
}
