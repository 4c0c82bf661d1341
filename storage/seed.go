package storage

import (
	"bytes"
	_ "embed"
	"fmt"
	"log"
	"os"

	"github.com/orian/rulerepo/models"
	"github.com/pelletier/go-toml/v2"
)

// SeedAuthor is recorded on commits made while seeding.
const SeedAuthor = "seed"

//go:embed default_seed.toml
var defaultSeed []byte

// Seed declares the projects a fresh repository starts with.
type Seed struct {
	Projects []SeedProject `toml:"project"`
}

type SeedProject struct {
	Name         string            `toml:"name"`
	VariableSets []SeedVariableSet `toml:"variable_set"`
	Ruleflows    []SeedRuleflow    `toml:"ruleflow"`
}

type SeedVariableSet struct {
	Name      string         `toml:"name"`
	Variables []SeedVariable `toml:"variable"`
}

type SeedVariable struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type SeedRuleflow struct {
	Name string `toml:"name"`
	Body string `toml:"body"`
}

// DefaultSeed returns the embedded seed.
func DefaultSeed() (*Seed, error) {
	return ParseSeed(defaultSeed, "default seed")
}

// LoadSeed reads a seed file from disk.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", path, err)
	}
	return ParseSeed(data, path)
}

// ParseSeed decodes seed TOML, rejecting unknown keys. source is used in
// error messages.
func ParseSeed(data []byte, source string) (*Seed, error) {
	var seed Seed
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", source, err)
	}
	for i, p := range seed.Projects {
		if p.Name == "" {
			return nil, fmt.Errorf("invalid seed %s: project %d has no name", source, i+1)
		}
	}
	return &seed, nil
}

// ApplySeed creates every seeded project that does not exist yet, with its
// variable sets and ruleflows committed on the project's main branch. Each
// project is written in one transaction. Existing projects are left
// untouched.
func ApplySeed(store *SQLStorage, seed *Seed) error {
	for _, sp := range seed.Projects {
		if _, exists := store.GetProjectByName(sp.Name); exists {
			log.Printf("Seed: project %s already exists, skipping", sp.Name)
			continue
		}

		var changes []*models.ChangeSet
		for _, vs := range sp.VariableSets {
			cs := models.NewChangeSet(&models.Element{Kind: models.KindVariableSet, Name: vs.Name})
			for _, v := range vs.Variables {
				variable := &models.Element{Kind: models.KindVariable, Name: v.Name}
				variable.Set(models.FieldVariableType, v.Type)
				cs.Add(models.RelVariableSetVariables, variable)
			}
			changes = append(changes, cs)
		}
		for _, rf := range sp.Ruleflows {
			ruleflow := &models.Element{Kind: models.KindRuleflow, Name: rf.Name}
			if rf.Body != "" {
				ruleflow.Set(models.FieldRuleflowBody, rf.Body)
			}
			changes = append(changes, models.NewChangeSet(ruleflow))
		}

		if _, err := store.CreateProjectWith(sp.Name, SeedAuthor, changes...); err != nil {
			return fmt.Errorf("failed to seed project %s: %w", sp.Name, err)
		}

		log.Printf("Seed: created project %s (%d variable set(s), %d ruleflow(s))",
			sp.Name, len(sp.VariableSets), len(sp.Ruleflows))
	}
	return nil
}
