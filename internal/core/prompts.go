package core

// CrisisToken is the literal the model is told to answer with when a message
// reads as self-harm or crisis related. It never reaches the user or the store.
const CrisisToken = "CRISIS_DETECTED"

const (
	SafetyBlockedReply = "I'm sorry, but I can't respond to that. " +
		"If you'd like, we can talk about it in a different way or about something else on your mind."

	TroubleConnectingReply = "I'm having trouble connecting right now. Please try again in a moment."

	CrisisReply = "It sounds like you're going through something really painful right now, and you don't have to face it alone. " +
		"Please reach out for support right away:\n\n" +
		"- **Call or text 988** to reach the 988 Suicide & Crisis Lifeline (US), available 24/7.\n" +
		"- **Text HOME to 741741** to connect with the Crisis Text Line.\n" +
		"- If you are in immediate danger, call your local emergency number.\n\n" +
		"If you're outside the US, the International Association for Suicide Prevention lists crisis centres at https://www.iasp.info/resources/Crisis_Centres/."
)

const companionSystemInstruction = "You are Solace, a warm and supportive wellness companion inside a private journaling app. " +
	"You are not a therapist or a clinician: listen, reflect back what you hear, and gently encourage healthy coping and self-reflection. " +
	"Format every response in Markdown. Keep replies conversational and end with an open, caring follow-up question when it fits. " +
	"Never give medical advice, diagnoses or medication guidance; suggest talking to a qualified professional instead. " +
	"MANDATORY RULE: if the user's message suggests self-harm, suicidal thoughts or any crisis, respond with exactly " +
	CrisisToken + " and nothing else."

const reflectionSystemInstruction = "You are Solace, a supportive wellness companion. The user shares one private journal entry. " +
	"Offer a short, kind reflection in Markdown: acknowledge their feelings, highlight one strength or insight, and suggest one gentle next step. " +
	"Never give medical advice. " +
	"MANDATORY RULE: if the entry suggests self-harm, suicidal thoughts or any crisis, respond with exactly " +
	CrisisToken + " and nothing else."

const (
	journalContextIntro = "The user has shared some relevant context from their private journal entries. " +
		"Here are the most relevant excerpts:"

	journalContextOutro = "Use this context to make your reply more personal where it genuinely helps. " +
		"If you use it, mention that you found it in their journal; you don't need to cite the date."

	excerptDateLayout = "January 2, 2006"
	excerptMaxRunes   = 150
)

const titleSystemInstruction = "You generate concise titles for journaling companion conversations. " +
	"The title should be 3-5 words maximum. Just return the title itself, nothing else."
