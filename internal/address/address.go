// Package address holds the configured addresses to poll and the slug used to
// identify them.
package address

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/chinmina/waste-bridge/internal/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Entry is one configured address. It does not change for the lifetime of the
// process.
type Entry struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

// Key is the normalised identity of the entry's address.
func (e Entry) Key() string {
	return Key(e.Address)
}

// DisplayName is the configured name, defaulting to the address.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Address
}

type file struct {
	Addresses []Entry `yaml:"addresses"`
}

// Load collects the addresses from the configured file and inline list, in
// that order. Names default to the address, and two entries normalising to the
// same key are rejected.
func Load(cfg config.AddressConfig) ([]Entry, error) {
	var entries []Entry

	if cfg.File != "" {
		fromFile, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}

	if cfg.Inline != "" {
		inline, err := ParseInline(cfg.Inline)
		if err != nil {
			return nil, err
		}
		entries = append(entries, inline...)
	}

	return normalize(entries)
}

// LoadFile reads a YAML document of the form:
//
//	addresses:
//	  - address: Main St 1
//	    name: Home
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read addresses file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("could not parse addresses file %s: %w", path, err)
	}

	return f.Addresses, nil
}

// ParseInline reads ";" separated "address" or "address=name" items.
func ParseInline(s string) ([]Entry, error) {
	var entries []Entry

	for item := range strings.SplitSeq(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		addr, name, _ := strings.Cut(item, "=")
		entries = append(entries, Entry{
			Address: strings.TrimSpace(addr),
			Name:    strings.TrimSpace(name),
		})
	}

	return entries, nil
}

func normalize(entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, errors.New("no addresses configured")
	}

	seen := make(map[string]string, len(entries))
	result := make([]Entry, 0, len(entries))

	for _, e := range entries {
		e.Address = strings.TrimSpace(e.Address)
		e.Name = strings.TrimSpace(e.Name)

		if e.Address == "" {
			return nil, errors.New("address must not be empty")
		}

		key := e.Key()
		if key == "" {
			return nil, fmt.Errorf("address %q has no usable characters", e.Address)
		}

		if prior, ok := seen[key]; ok {
			return nil, fmt.Errorf("address %q is already configured as %q", e.Address, prior)
		}
		seen[key] = e.Address

		if e.Name == "" {
			e.Name = e.Address
		}
		result = append(result, e)
	}

	return result, nil
}

var lower = cases.Lower(language.Swedish)

// Key normalises s to a slug: diacritics are dropped, letters lower-cased and
// every run of other characters becomes a single "_".
func Key(s string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		s,
	)
	if err != nil {
		stripped = s
	}
	stripped = lower.String(stripped)

	var b strings.Builder
	pendingSep := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	return b.String()
}
