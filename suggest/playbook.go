package suggest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type PricingTier struct {
	Tier  string `yaml:"tier"`
	Price string `yaml:"price"`
}

type Product struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Pricing     []PricingTier `yaml:"pricing"`
}

type Objection struct {
	Triggers  []string `yaml:"triggers"`
	Responses []string `yaml:"responses"`
}

// Playbook is the product and objection-handling context handed to the
// suggestion service.
type Playbook struct {
	Product    Product              `yaml:"product"`
	ValueProps []string             `yaml:"value_props"`
	Objections map[string]Objection `yaml:"objections"`
	// TriggerPhrases overrides the conversation trigger list when set.
	TriggerPhrases []string `yaml:"trigger_phrases"`
}

func DefaultPlaybook() Playbook {
	return Playbook{
		Product: Product{
			Name: "Acme CRM Pro",
			Description: "Enterprise CRM solution with AI-powered lead scoring, automated follow-ups, " +
				"and deep analytics integration. Designed for mid-market B2B companies with 50-500 employees.",
			Pricing: []PricingTier{
				{Tier: "Starter", Price: "$50/user/month"},
				{Tier: "Professional", Price: "$100/user/month"},
				{Tier: "Enterprise", Price: "Custom pricing"},
			},
		},
		ValueProps: []string{
			"Reduces manual data entry by 80%",
			"Increases sales team productivity by 35%",
			"Integrates with 200+ tools out of the box",
			"Implementation in under 2 weeks",
			"24/7 customer support included",
		},
		Objections: map[string]Objection{
			"price": {
				Triggers: []string{"too expensive", "over budget", "can't afford", "too much"},
				Responses: []string{
					"Reframe as ROI: Ask about cost of current manual processes",
					"Offer phased implementation to spread costs",
					"Highlight hidden costs of not switching",
					"Suggest starting with smaller team/tier",
				},
			},
			"timing": {
				Triggers: []string{"not the right time", "too busy", "next quarter"},
				Responses: []string{
					"Ask what would need to change for timing to be right",
					"Offer lighter-touch pilot program",
					"Discuss cost of waiting (competitor advantage)",
					"Schedule follow-up for better timing",
				},
			},
			"need_to_think": {
				Triggers: []string{"think about it", "get back to you", "discuss internally"},
				Responses: []string{
					"Ask what specific concerns need discussion",
					"Offer to join internal meeting to answer questions",
					"Set specific follow-up time before ending call",
					"Provide summary document for internal review",
				},
			},
			"competitor": {
				Triggers: []string{"already using", "have a solution", "current provider"},
				Responses: []string{
					"Ask what they wish was better about current solution",
					"Offer comparison or migration support",
					"Share relevant case study of similar switch",
					"Highlight unique differentiators",
				},
			},
			"authority": {
				Triggers: []string{"check with my", "need approval", "not my decision"},
				Responses: []string{
					"Offer to present to decision-makers directly",
					"Provide materials they can share internally",
					"Ask what would help them champion internally",
					"Identify who else should be in the conversation",
				},
			},
		},
	}
}

// LoadPlaybook reads a YAML playbook. Unknown keys are rejected; sections
// left out keep the default values.
func LoadPlaybook(path string) (Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("reading playbook: %w", err)
	}
	return ParsePlaybook(data)
}

func ParsePlaybook(data []byte) (Playbook, error) {
	var p Playbook
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Playbook{}, fmt.Errorf("parsing playbook: %w", err)
	}

	def := DefaultPlaybook()
	if p.Product.Name == "" {
		p.Product = def.Product
	}
	if len(p.ValueProps) == 0 {
		p.ValueProps = def.ValueProps
	}
	if len(p.Objections) == 0 {
		p.Objections = def.Objections
	}
	return p, nil
}

// ObjectionNames returns the playbook's objection categories in stable order.
func (p Playbook) ObjectionNames() []string {
	names := make([]string, 0, len(p.Objections))
	for name := range p.Objections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
