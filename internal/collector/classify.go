package collector

import (
	"sort"
	"strings"
)

const defaultCategory = "miscellaneous"

type categoryRule struct {
	name     string
	keywords []string
}

// categoryRules is evaluated in order; the first rule with a keyword that
// appears anywhere in the page text wins.
var categoryRules = []categoryRule{
	{"blog", []string{"blog", "post", "journal"}},
	{"ecommerce", []string{"shop", "store", "buy", "ecommerce", "cart", "product", "sale", "deal", "outlet", "retail", "market"}},
	{"news", []string{"news", "media", "press", "magazine", "gazette", "bulletin", "headline", "reporter", "newspaper"}},
	{"forum", []string{"forum", "community", "discussion", "board", "thread", "topic", "messageboard", "chat"}},
	{"education", []string{"university", "college", "school", "edu", "academy", "institute", "campus", "faculty", "student", "alumni"}},
	{"government", []string{"gov", "government", "municipal", "state", "federal", "ministry", "council", "parliament", "senate", "congress"}},
	{"reference", []string{"wiki", "encyclopedia", "reference", "dictionary", "glossary", "manual", "howto", "faq"}},
	{"personal", []string{"portfolio", "resume", "cv", "bio", "aboutme", "profile", "personal", "homepage"}},
	{"software", []string{"software", "app", "download", "tool", "platform", "service", "cloud", "saas", "opensource"}},
	{"health", []string{"health", "medical", "clinic", "hospital", "doctor", "pharmacy", "wellness", "care", "medicine", "dental", "therapy"}},
	{"finance", []string{"finance", "bank", "money", "loan", "credit", "investment", "fund", "insurance", "mortgage", "accounting", "tax"}},
	{"travel", []string{"travel", "hotel", "flight", "tourism", "trip", "tour", "booking", "destination", "holiday", "cruise", "airline"}},
	{"food", []string{"restaurant", "food", "cafe", "bar", "dining", "menu", "cuisine", "eatery", "bistro", "pub", "grill", "kitchen"}},
	{"sports", []string{"sports", "game", "team", "league", "match", "tournament", "score", "athlete", "coach", "stadium", "fitness", "gym"}},
	{"arts", []string{"art", "gallery", "museum", "exhibit", "artist", "painting", "sculpture", "theatre", "concert", "music", "band", "film", "movie", "cinema", "festival"}},
	{"science", []string{"science", "research", "lab", "technology", "engineering", "math", "stem", "physics", "chemistry", "biology", "innovation"}},
	{"real_estate", []string{"real estate", "property", "housing", "apartment", "rent", "home", "condo", "realtor", "broker"}},
	{"jobs", []string{"job", "career", "employment", "work", "vacancy", "recruit", "hire"}},
	{"automotive", []string{"automotive", "car", "vehicle", "motor", "auto", "garage", "dealer", "truck", "bike"}},
	{"fashion", []string{"fashion", "clothing", "apparel", "boutique", "style", "designer", "shoes", "accessory", "jewelry"}},
	{"kids", []string{"kids", "children", "toys", "games", "play", "childcare", "nursery", "preschool"}},
	{"environment", []string{"environment", "eco", "green", "nature", "wildlife", "conservation", "sustain", "climate"}},
	{"religion", []string{"religion", "church", "temple", "mosque", "faith", "spiritual", "bible", "quran", "torah", "worship"}},
	{"adult", []string{"adult", "sex", "porn", "xxx", "escort", "dating", "singles"}},
	{"security", []string{"security", "cyber", "privacy", "infosec", "hacker", "malware", "virus", "firewall"}},
	{"logistics", []string{"logistics", "shipping", "delivery", "supply", "warehouse", "freight", "transport", "cargo"}},
	{"construction", []string{"construction", "builder", "contractor", "architecture", "engineer", "design", "remodel", "renovate"}},
	{"energy", []string{"energy", "power", "solar", "wind", "electric", "utility", "oil", "gas", "nuclear"}},
	{"legal", []string{"law", "legal", "attorney", "lawyer", "court", "justice", "case", "trial", "judge"}},
	{"consulting", []string{"consult", "advisory", "mentor", "counsel", "strategy", "management"}},
	{"events", []string{"event", "conference", "expo", "summit", "meetup", "webinar", "workshop"}},
	{"pets", []string{"pet", "animal", "vet", "veterinary", "dog", "cat", "bird", "fish", "horse"}},
	{"photography", []string{"photography", "photo", "camera", "picture", "image"}},
	{"language", []string{"translation", "language", "linguistics", "thesaurus", "grammar"}},
	{"hardware", []string{"hardware", "electronics", "gadget", "device", "component", "chip", "circuit"}},
	{"hosting", []string{"hosting", "server", "domain", "dns", "webhost", "vps"}},
	{"printing", []string{"printing", "print", "publisher"}},
	{"auction", []string{"auction", "bid", "bidding", "lot", "hammer"}},
	{"charity", []string{"charity", "ngo", "nonprofit", "foundation", "donate", "volunteer"}},
	{"agriculture", []string{"agriculture", "farm", "farming", "crop", "harvest", "agro", "ranch"}},
	{"mining", []string{"mining", "mine", "miner", "ore", "coal", "gold", "silver"}},
	{"space", []string{"space", "astronomy", "planet", "star", "satellite", "rocket", "nasa"}},
	{"military", []string{"military", "army", "navy", "airforce", "defense", "war", "battle"}},
	{"transport", []string{"bus", "train", "metro", "subway", "tram", "taxi", "cab"}},
}

// Categorize picks a category from the page title, description and domain
// name. Matching is by substring, so "shopping" counts as "shop".
func Categorize(domain, title, description string) string {
	text := strings.ToLower(title + " " + description + " " + domain)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.name
			}
		}
	}
	return defaultCategory
}

// Tags builds the sorted, comma-joined tag list from meta keywords, the
// labels of domain and the category.
func Tags(domain, keywords, category string) string {
	set := map[string]struct{}{}
	add := func(tag string) {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			set[tag] = struct{}{}
		}
	}
	for _, kw := range strings.Split(keywords, ",") {
		add(kw)
	}
	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		add(parts[0])
	}
	if len(parts) >= 2 {
		add(parts[len(parts)-2])
	}
	add(parts[len(parts)-1])
	add(category)

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}
