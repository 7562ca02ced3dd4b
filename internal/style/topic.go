package style

import "strings"

// Topic is the policy area a piece of content is mostly about.
type Topic string

const (
	TopicEconomy       Topic = "economy"
	TopicHealthcare    Topic = "healthcare"
	TopicClimate       Topic = "climate"
	TopicImmigration   Topic = "immigration"
	TopicEducation     Topic = "education"
	TopicHousing       Topic = "housing"
	TopicJustice       Topic = "justice"
	TopicElections     Topic = "elections"
	TopicForeignPolicy Topic = "foreign_policy"
	TopicGeneral       Topic = "general"
)

// topicOrder is also the tie-break order.
var topicOrder = []Topic{
	TopicEconomy, TopicHealthcare, TopicClimate, TopicImmigration, TopicEducation,
	TopicHousing, TopicJustice, TopicElections, TopicForeignPolicy,
}

var topicKeywords = map[Topic][]string{
	TopicEconomy: {
		"economy", "inflation", "jobs", "wages", "tax", "taxes", "budget",
		"deficit", "unemployment", "cost of living", "interest rate", "growth",
	},
	TopicHealthcare: {
		"health", "healthcare", "hospital", "nurses", "doctors", "medicare",
		"medicaid", "insurance", "prescription", "mental health", "nhs",
	},
	TopicClimate: {
		"climate", "emissions", "carbon", "renewable", "solar", "wind farm",
		"net zero", "pollution", "environment", "flood", "wildfire",
	},
	TopicImmigration: {
		"immigration", "immigrants", "border", "asylum", "refugees",
		"migrants", "visa", "deportation", "citizenship",
	},
	TopicEducation: {
		"school", "schools", "teachers", "students", "education",
		"university", "tuition", "student loans", "curriculum",
	},
	TopicHousing: {
		"housing", "rent", "rents", "renters", "landlord", "mortgage",
		"homeless", "homelessness", "affordable homes", "zoning", "eviction",
	},
	TopicJustice: {
		"police", "policing", "crime", "court", "justice", "prison",
		"sentencing", "civil rights", "supreme court",
	},
	TopicElections: {
		"vote", "voting", "ballot", "election", "campaign", "polls",
		"candidate", "turnout", "primary", "register to vote",
	},
	TopicForeignPolicy: {
		"foreign", "war", "nato", "sanctions", "treaty", "diplomacy",
		"ukraine", "trade deal", "military", "allies",
	},
}

// ClassifyTopic returns the topic with the most keyword hits, or TopicGeneral.
func ClassifyTopic(text string) Topic {
	lower := strings.ToLower(text)
	best, bestHits := TopicGeneral, 0
	for _, topic := range topicOrder {
		hits := 0
		for _, kw := range topicKeywords[topic] {
			hits += countWord(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = topic, hits
		}
	}
	return best
}
