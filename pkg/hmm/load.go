package hmm

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrSchema is returned when a model document does not match the model schema.
var ErrSchema = errors.New("hmm: model document does not match schema")

//go:embed model.schema.json
var modelSchema []byte

// File is the on-disk representation of a model. JSON documents are accepted
// as well since they are valid YAML.
type File struct {
	Name       string      `yaml:"name,omitempty"    json:"name,omitempty"`
	States     []string    `yaml:"states,omitempty"  json:"states,omitempty"`
	Symbols    []string    `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	Initial    []float64   `yaml:"initial"           json:"initial"`
	Transition [][]float64 `yaml:"transition"        json:"transition"`
	Emission   [][]float64 `yaml:"emission"          json:"emission"`
}

// Load reads and validates a model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}

	return m, nil
}

// Parse decodes a YAML or JSON model document, checks it against the model
// schema and validates the resulting distributions.
func Parse(data []byte) (*Model, error) {
	var doc any

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	err = checkSchema(doc)
	if err != nil {
		return nil, err
	}

	var file File

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	m, err := New(file.Initial, file.Transition, file.Emission)
	if err != nil {
		return nil, err
	}

	m = m.WithNames(file.States, file.Symbols)

	err = m.Validate()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Marshal encodes m as a YAML model document.
func Marshal(m *Model) ([]byte, error) {
	file := File{
		States:     m.stateNames,
		Symbols:    m.symbolNames,
		Initial:    m.InitialDistribution(),
		Transition: rows(Probability, m.transition),
		Emission:   rows(Probability, m.emission),
	}

	out, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}

	return out, nil
}

func checkSchema(doc any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(modelSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))

	for _, verr := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
	}

	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
}
