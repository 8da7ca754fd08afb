package markup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// BlockSpec describes one structured block by its opening and closing marker.
type BlockSpec struct {
	Name  string
	Open  *regexp.Regexp
	Close *regexp.Regexp
}

// Profile is the marker set used for one family of file types.
// Blocks drive chunk expansion and the unclosed-opener check.
// Singletons may appear at most once per file.
type Profile struct {
	Name       string
	Extensions []string
	Blocks     []BlockSpec
	Singletons []BlockSpec
}

// HasMarkers reports whether the profile defines any marker at all.
func (p *Profile) HasMarkers() bool {
	return len(p.Blocks) > 0 || len(p.Singletons) > 0
}

// Block returns the block spec with the given name, or nil.
func (p *Profile) Block(name string) *BlockSpec {
	for i := range p.Blocks {
		if p.Blocks[i].Name == name {
			return &p.Blocks[i]
		}
	}
	return nil
}

var (
	scriptSpec = BlockSpec{
		Name:  "script",
		Open:  regexp.MustCompile(`(?i)<script\b[^>]*>`),
		Close: regexp.MustCompile(`(?i)</script\s*>`),
	}
	styleSpec = BlockSpec{
		Name:  "style",
		Open:  regexp.MustCompile(`(?i)<style\b[^>]*>`),
		Close: regexp.MustCompile(`(?i)</style\s*>`),
	}
	headSpec = BlockSpec{
		Name:  "head",
		Open:  regexp.MustCompile(`(?i)<head\b[^>]*>`),
		Close: regexp.MustCompile(`(?i)</head\s*>`),
	}
	bodySpec = BlockSpec{
		Name:  "body",
		Open:  regexp.MustCompile(`(?i)<body\b[^>]*>`),
		Close: regexp.MustCompile(`(?i)</body\s*>`),
	}
	jsonLDSpec = BlockSpec{
		Name:  "json_ld",
		Open:  regexp.MustCompile(`(?i)<script\b[^>]*type\s*=\s*["']?application/ld\+json["']?[^>]*>`),
		Close: regexp.MustCompile(`(?i)</script\s*>`),
	}
)

// MarkupProfile is the default profile for HTML-bearing files.
func MarkupProfile() *Profile {
	return &Profile{
		Name: "markup",
		Extensions: []string{
			".html", ".htm", ".php", ".xml", ".vue", ".svelte",
			".js", ".jsx", ".ts", ".tsx",
		},
		Blocks:     []BlockSpec{scriptSpec, styleSpec, headSpec, jsonLDSpec},
		Singletons: []BlockSpec{headSpec, bodySpec},
	}
}

// PlainProfile has no markers. Stylesheets use it.
func PlainProfile() *Profile {
	return &Profile{Name: "plain", Extensions: []string{".css", ".scss"}}
}

// Profiles resolves the marker profile for a file path by extension.
type Profiles struct {
	byExt    map[string]*Profile
	fallback *Profile
}

// DefaultProfiles returns the built-in markup and plain profiles.
// Unknown extensions fall back to the markup profile.
func DefaultProfiles() *Profiles {
	p := &Profiles{byExt: map[string]*Profile{}, fallback: MarkupProfile()}
	p.Register(p.fallback)
	p.Register(PlainProfile())
	return p
}

// Register maps every extension of prof to prof, replacing earlier mappings.
func (p *Profiles) Register(prof *Profile) {
	for _, ext := range prof.Extensions {
		p.byExt[normalizeExt(ext)] = prof
	}
}

// For returns the profile for the file at path.
func (p *Profiles) For(path string) *Profile {
	if prof, ok := p.byExt[normalizeExt(filepath.Ext(path))]; ok {
		return prof
	}
	return p.fallback
}

// Integrity returns the profile whose markers the integrity check uses for path.
// Files whose own profile has no markers are still checked against the
// markup profile when they contain markup.
func (p *Profiles) Integrity(path string) *Profile {
	if prof := p.For(path); prof.HasMarkers() {
		return prof
	}
	return p.fallback
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

type profileFile struct {
	Profiles []profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	Name       string      `yaml:"name"`
	Extensions []string    `yaml:"extensions"`
	Blocks     []specEntry `yaml:"blocks"`
	Singletons []specEntry `yaml:"singletons"`
}

type specEntry struct {
	Name  string `yaml:"name"`
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// LoadProfiles reads YAML profile overrides from path on top of the defaults.
// An empty path returns the defaults.
func LoadProfiles(path string) (*Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	for _, e := range pf.Profiles {
		prof, err := e.compile()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", e.Name, err)
		}
		profiles.Register(prof)
	}
	return profiles, nil
}

func (e profileEntry) compile() (*Profile, error) {
	if len(e.Extensions) == 0 {
		return nil, fmt.Errorf("no extensions")
	}
	prof := &Profile{Name: e.Name, Extensions: e.Extensions}
	for _, s := range e.Blocks {
		spec, err := s.compile()
		if err != nil {
			return nil, err
		}
		prof.Blocks = append(prof.Blocks, spec)
	}
	for _, s := range e.Singletons {
		spec, err := s.compile()
		if err != nil {
			return nil, err
		}
		prof.Singletons = append(prof.Singletons, spec)
	}
	return prof, nil
}

func (s specEntry) compile() (BlockSpec, error) {
	open, err := regexp.Compile(s.Open)
	if err != nil {
		return BlockSpec{}, fmt.Errorf("block %q open: %w", s.Name, err)
	}
	closer, err := regexp.Compile(s.Close)
	if err != nil {
		return BlockSpec{}, fmt.Errorf("block %q close: %w", s.Name, err)
	}
	return BlockSpec{Name: s.Name, Open: open, Close: closer}, nil
}
