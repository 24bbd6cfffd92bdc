package resolve

import (
	"strings"
)

// Category is the semantic class a pronoun or main entity belongs to.
type Category string

const (
	CategoryOrganization   Category = "ORGANIZATION"
	CategoryService        Category = "SERVICE"
	CategoryUser           Category = "USER"
	CategoryPolicyDocument Category = "POLICY_DOCUMENT"
	CategoryData           Category = "DATA"
	CategoryPerson         Category = "PERSON"
	CategoryContextual     Category = "CONTEXTUAL"
)

// Document contexts understood by the default tables.
const (
	ContextPrivacyPolicy    = "privacy_policy"
	ContextTermsOfService   = "terms_of_service"
	ContextLicenseAgreement = "license_agreement"
	ContextLegalDocument    = "legal_document"
	ContextGeneral          = "general"
)

// DefaultPronouns maps bare pronouns to the category of their antecedent.
var DefaultPronouns = map[string]Category{
	"we": CategoryOrganization, "us": CategoryOrganization, "our": CategoryOrganization,
	"ours": CategoryOrganization, "ourselves": CategoryOrganization,

	"you": CategoryUser, "your": CategoryUser, "yours": CategoryUser,
	"yourself": CategoryUser, "yourselves": CategoryUser,

	"they": CategoryContextual, "them": CategoryContextual, "their": CategoryContextual,
	"theirs": CategoryContextual, "themselves": CategoryContextual,
	"it": CategoryContextual, "its": CategoryContextual, "itself": CategoryContextual,
	"this": CategoryContextual, "that": CategoryContextual,

	"he": CategoryPerson, "him": CategoryPerson, "his": CategoryPerson, "himself": CategoryPerson,
	"she": CategoryPerson, "her": CategoryPerson, "hers": CategoryPerson, "herself": CategoryPerson,
}

// GenericPhrase is a generic noun phrase that stands in for a real entity.
type GenericPhrase struct {
	Phrase   string
	Category Category
}

// DefaultGenericPhrases is checked in order; the first match wins.
var DefaultGenericPhrases = []GenericPhrase{
	{"the company", CategoryOrganization},
	{"the organization", CategoryOrganization},
	{"the business", CategoryOrganization},
	{"the entity", CategoryOrganization},

	{"the platform", CategoryService},
	{"the services", CategoryService},
	{"the service", CategoryService},
	{"the system", CategoryService},
	{"the application", CategoryService},
	{"the app", CategoryService},
	{"the software", CategoryService},
	{"the product", CategoryService},

	{"the users", CategoryUser},
	{"the user", CategoryUser},
	{"the customers", CategoryUser},
	{"the customer", CategoryUser},
	{"the individual", CategoryUser},
	{"the person", CategoryUser},

	{"this policy", CategoryPolicyDocument},
	{"the policy", CategoryPolicyDocument},
	{"the document", CategoryPolicyDocument},
	{"the agreement", CategoryPolicyDocument},
	{"the terms", CategoryPolicyDocument},

	{"such information", CategoryData},
	{"such data", CategoryData},
	{"the information", CategoryData},
	{"the data", CategoryData},
}

// DefaultContextTables lists, per document context and category, the
// canonical names an antecedent is expected to contain, in preference order.
var DefaultContextTables = map[string]map[Category][]string{
	ContextPrivacyPolicy: {
		CategoryOrganization:   {"OpenAI", "OpenAI, Inc."},
		CategoryService:        {"ChatGPT", "OpenAI Services", "AI Services"},
		CategoryUser:           {"User", "Users", "Data Subject"},
		CategoryPolicyDocument: {"Privacy Policy", "ChatGPT Privacy Policy"},
		CategoryData:           {"Personal Data", "User Data", "Personal Information"},
	},
	ContextTermsOfService: {
		CategoryOrganization:   {"OpenAI", "Company"},
		CategoryService:        {"Services", "Platform", "ChatGPT"},
		CategoryUser:           {"User", "Customer", "You"},
		CategoryPolicyDocument: {"Terms of Service", "Agreement"},
		CategoryData:           {"Content", "Data", "Information"},
	},
}

// DefaultSweepTargets maps persisted pronoun node names to the canonical
// node they are merged into when no context table applies.
var DefaultSweepTargets = map[string]string{
	"we": "OpenAI", "us": "OpenAI", "our": "OpenAI",
	"you": "User", "your": "User",
	"the company":     "OpenAI",
	"the service":     "ChatGPT",
	"the services":    "ChatGPT",
	"the system":      "ChatGPT",
	"the platform":    "ChatGPT",
	"the user":        "User",
	"the users":       "User",
	"the policy":      "Privacy Policy",
	"this policy":     "Privacy Policy",
	"the data":        "Personal Data",
	"the information": "Personal Data",
}

// categoryRule assigns a category to a main candidate.
type categoryRule struct {
	category Category
	match    func(name, typ string) bool
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// defaultCategoryRules are evaluated in order on lowercased name and type.
var defaultCategoryRules = []categoryRule{
	{CategoryOrganization, func(n, _ string) bool { return containsAny(n, "openai", "company", "organization") }},
	{CategoryService, func(n, _ string) bool { return containsAny(n, "chatgpt", "service", "platform", "api") }},
	{CategoryUser, func(n, t string) bool {
		return containsAny(n, "user", "customer", "individual") && strings.Contains(t, "user")
	}},
	{CategoryPolicyDocument, func(n, _ string) bool { return containsAny(n, "policy", "terms", "agreement", "document") }},
	{CategoryData, func(n, _ string) bool { return containsAny(n, "data", "information") && len(n) > 10 }},
	{CategoryPerson, func(n, t string) bool { return strings.Contains(t, "person") && len(strings.Fields(n)) <= 3 }},
}

// Normalized is the output of a coreference pass.
type Normalized struct {
	Entities []EntityCandidate
	// Resolved maps each lowercased referring name to its antecedent name.
	Resolved map[string]string
	// Dropped lists referring names that had no antecedent.
	Dropped []string
}

// CoreferenceNormalizer rewrites pronoun and generic-phrase candidates to
// their antecedents and drops the ones it cannot resolve.
type CoreferenceNormalizer struct {
	pronouns map[string]Category
	generics []GenericPhrase
	contexts map[string]map[Category][]string
	targets  map[string]string
	rules    []categoryRule
}

// NormalizerOption customises a CoreferenceNormalizer.
type NormalizerOption func(*CoreferenceNormalizer)

// WithContextTable installs or replaces the override table for a context.
func WithContextTable(documentContext string, table map[Category][]string) NormalizerOption {
	return func(n *CoreferenceNormalizer) {
		n.contexts[documentContext] = table
	}
}

// WithSweepTargets replaces the static phrase to target-name table.
func WithSweepTargets(targets map[string]string) NormalizerOption {
	return func(n *CoreferenceNormalizer) {
		n.targets = targets
	}
}

// NewCoreferenceNormalizer builds a normalizer from the default tables.
func NewCoreferenceNormalizer(opts ...NormalizerOption) *CoreferenceNormalizer {
	n := &CoreferenceNormalizer{
		pronouns: DefaultPronouns,
		generics: DefaultGenericPhrases,
		contexts: make(map[string]map[Category][]string, len(DefaultContextTables)),
		targets:  DefaultSweepTargets,
		rules:    defaultCategoryRules,
	}
	for k, v := range DefaultContextTables {
		n.contexts[k] = v
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// ReferringCategory reports whether name is a pronoun or generic phrase
// and, if so, the category of its antecedent.
func (n *CoreferenceNormalizer) ReferringCategory(name string) (Category, bool) {
	key := normalizeKey(name)
	if key == "" {
		return "", false
	}
	if c, ok := n.pronouns[key]; ok {
		return c, true
	}
	for _, g := range n.generics {
		if key == g.Phrase {
			return g.Category, true
		}
		if strings.Contains(g.Phrase, " ") && strings.Contains(key, g.Phrase) {
			return g.Category, true
		}
	}
	return "", false
}

// Categorize assigns a semantic category to a main candidate.
func (n *CoreferenceNormalizer) Categorize(c EntityCandidate) (Category, bool) {
	name, typ := normalizeKey(c.Name), normalizeKey(c.Type)
	for _, r := range n.rules {
		if r.match(name, typ) {
			return r.category, true
		}
	}
	// A declared type that names a category is taken at its word.
	switch cat := Category(strings.ToUpper(typ)); cat {
	case CategoryOrganization, CategoryService, CategoryUser, CategoryPolicyDocument, CategoryData, CategoryPerson:
		return cat, true
	}
	return "", false
}

// Normalize replaces each referring candidate in place with its
// antecedent and drops those without one. Running it on its own output
// is a no-op.
func (n *CoreferenceNormalizer) Normalize(cands []EntityCandidate, documentContext string) Normalized {
	out := Normalized{Resolved: make(map[string]string)}

	type mainCand struct {
		idx      int
		category Category
		known    bool
	}
	var mains []mainCand
	referring := make(map[int]Category)
	for i, c := range cands {
		if cat, ok := n.ReferringCategory(c.Name); ok {
			referring[i] = cat
			continue
		}
		cat, known := n.Categorize(c)
		mains = append(mains, mainCand{i, cat, known})
	}

	table := n.contexts[documentContext]
	antecedent := func(cat Category) (EntityCandidate, bool) {
		for _, expected := range table[cat] {
			want := strings.ToLower(expected)
			for _, m := range mains {
				name := normalizeKey(cands[m.idx].Name)
				// Uncategorised mains only count on an exact name match.
				if m.known && m.category == cat && strings.Contains(name, want) ||
					!m.known && name == want {
					return cands[m.idx], true
				}
			}
		}
		for _, m := range mains {
			if m.known && m.category == cat {
				return cands[m.idx], true
			}
		}
		return EntityCandidate{}, false
	}

	out.Entities = make([]EntityCandidate, 0, len(cands))
	for i, c := range cands {
		cat, isRef := referring[i]
		if !isRef {
			out.Entities = append(out.Entities, c)
			continue
		}
		main, ok := antecedent(cat)
		if !ok {
			out.Dropped = append(out.Dropped, c.Name)
			continue
		}
		props, _ := backfillProperties(copyProperties(main.Properties), c.Properties)
		conf := main.Confidence
		if c.Confidence > conf {
			conf = c.Confidence
		}
		out.Entities = append(out.Entities, EntityCandidate{
			Name:       main.Name,
			Type:       main.Type,
			DocumentID: c.DocumentID,
			Properties: props,
			Aliases:    append([]string(nil), main.Aliases...),
			Confidence: clamp01(conf),
		})
		out.Resolved[normalizeKey(c.Name)] = main.Name
	}
	return out
}

// PersistedPhrases lists every pronoun and generic phrase the sweep looks
// for among persisted node names.
func (n *CoreferenceNormalizer) PersistedPhrases() []string {
	out := make([]string, 0, len(n.pronouns)+len(n.generics))
	for p := range n.pronouns {
		out = append(out, p)
	}
	for _, g := range n.generics {
		out = append(out, g.Phrase)
	}
	return out
}

// sweepTargets returns candidate canonical names for a persisted
// referring node, context table first.
func (n *CoreferenceNormalizer) sweepTargets(name, documentContext string) []string {
	var out []string
	if cat, ok := n.ReferringCategory(name); ok {
		out = append(out, n.contexts[documentContext][cat]...)
	}
	if t, ok := n.targets[normalizeKey(name)]; ok {
		out = append(out, t)
	}
	return out
}

// DetectDocumentContext infers the coreference context of a document
// from its title and declared type.
func DetectDocumentContext(title, docType string) string {
	t := strings.ToLower(title)
	d := strings.ToLower(docType)
	switch {
	case containsAny(t, "privacy", "policy", "data protection"):
		return ContextPrivacyPolicy
	case containsAny(t, "terms", "service", "agreement", "tos"):
		return ContextTermsOfService
	case containsAny(t, "license", "eula", "end user"):
		return ContextLicenseAgreement
	case containsAny(d, "legal", "contract", "agreement"):
		return ContextLegalDocument
	}
	return ContextGeneral
}
