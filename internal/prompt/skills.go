package prompt

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// skillCardLimit caps how much of each card goes into the prompt.
const skillCardLimit = 1200

// noSkillCards is the prompt text when no cards are loaded.
const noSkillCards = "No external skill cards loaded."

// SkillCard is one markdown file from the skills directory.
type SkillCard struct {
	Name        string
	Description string
	Content     string
}

// frontmatter is the optional YAML header of a skill card.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// LoadSkillCards reads dir/*.md in file-name order. Unreadable or empty
// files are skipped; a missing directory yields no cards.
func LoadSkillCards(dir string) []SkillCard {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil
	}
	sort.Strings(paths)

	var cards []SkillCard
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		card, ok := parseSkillCard(strings.TrimSuffix(filepath.Base(path), ".md"), data)
		if !ok {
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// parseSkillCard splits off a "---" delimited YAML header when present. A
// header that fails to parse is treated as part of the content.
func parseSkillCard(stem string, data []byte) (SkillCard, bool) {
	card := SkillCard{Name: stem}
	body := bytes.TrimSpace(data)

	if rest, ok := bytes.CutPrefix(body, []byte("---\n")); ok {
		if header, content, found := bytes.Cut(rest, []byte("\n---")); found {
			var fm frontmatter
			if err := yaml.Unmarshal(header, &fm); err == nil {
				if fm.Name != "" {
					card.Name = fm.Name
				}
				card.Description = fm.Description
				body = bytes.TrimSpace(content)
			}
		}
	}

	card.Content = string(body)
	if card.Content == "" {
		return SkillCard{}, false
	}
	return card, true
}

// FormatSkillCards renders cards for the instruction prompt.
func FormatSkillCards(cards []SkillCard) string {
	if len(cards) == 0 {
		return noSkillCards
	}
	parts := make([]string, 0, len(cards)*2)
	for _, c := range cards {
		header := "[" + c.Name + "]"
		if c.Description != "" {
			header += " " + c.Description
		}
		parts = append(parts, header, truncateRunes(c.Content, skillCardLimit))
	}
	return strings.Join(parts, "\n\n")
}

// SkillNames returns the card names, comma separated, or "(none)".
func SkillNames(cards []SkillCard) string {
	if len(cards) == 0 {
		return "(none)"
	}
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
