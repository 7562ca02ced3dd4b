package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPlatform is returned for platform names outside the registry.
var ErrUnknownPlatform = errors.New("unknown platform")

// #region platform
// Platform describes where a post will be published.
type Platform struct {
	Name        string `json:"name"`
	MaxChars    int    `json:"maxChars"`    // 0 = no hard limit
	MaxHashtags int    `json:"maxHashtags"` // 0 = no hashtags
	Guidance    string `json:"guidance"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Platform{
		"x": {
			Name: "x", MaxChars: 280, MaxHashtags: 2,
			Guidance: "One punchy post. Lead with the claim, no preamble.",
		},
		"threads": {
			Name: "threads", MaxChars: 500, MaxHashtags: 3,
			Guidance: "Conversational, one idea, end with a question or call to action.",
		},
		"instagram": {
			Name: "instagram", MaxChars: 2200, MaxHashtags: 10,
			Guidance: "Caption for an image. Strong first line, short paragraphs, hashtags at the end.",
		},
		"facebook": {
			Name: "facebook", MaxChars: 5000, MaxHashtags: 3,
			Guidance: "Community tone, two to four short paragraphs, a clear ask at the end.",
		},
		"blog": {
			Name: "blog", MaxChars: 12000, MaxHashtags: 0,
			Guidance: "A titled article with an introduction, three or more sections and a conclusion.",
		},
	}
)

// #endregion

// Lookup returns the named platform. Names are case-insensitive and
// "twitter" is accepted for "x".
func Lookup(name string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "twitter" {
		key = "x"
	}
	registryMu.RLock()
	p, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return Platform{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return p, nil
}

// Names lists the registered platforms, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// #region platform-file

// platformFile is the YAML layout read by LoadPlatforms:
//
//	platforms:
//	  linkedin:
//	    maxChars: 3000
//	    maxHashtags: 5
//	    guidance: Professional tone.
type platformFile struct {
	Platforms map[string]struct {
		MaxChars    *int   `yaml:"maxChars"`
		MaxHashtags *int   `yaml:"maxHashtags"`
		Guidance    string `yaml:"guidance"`
	} `yaml:"platforms"`
}

// LoadPlatforms merges platform definitions from YAML into the registry.
// Known platforms keep any field the file leaves out; new platforms need
// maxChars. Returns the names that were added or changed.
func LoadPlatforms(r io.Reader) ([]string, error) {
	var f platformFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode platforms: %w", err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	merged := make(map[string]Platform, len(f.Platforms))
	for name, def := range f.Platforms {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("platform with empty name")
		}
		p, known := registry[key]
		if !known {
			if def.MaxChars == nil {
				return nil, fmt.Errorf("platform %q: maxChars is required", key)
			}
			p = Platform{Name: key}
		}
		if def.MaxChars != nil {
			if *def.MaxChars < 0 {
				return nil, fmt.Errorf("platform %q: maxChars must be >= 0", key)
			}
			p.MaxChars = *def.MaxChars
		}
		if def.MaxHashtags != nil {
			if *def.MaxHashtags < 0 {
				return nil, fmt.Errorf("platform %q: maxHashtags must be >= 0", key)
			}
			p.MaxHashtags = *def.MaxHashtags
		}
		if g := strings.TrimSpace(def.Guidance); g != "" {
			p.Guidance = g
		}
		merged[key] = p
	}

	names := make([]string, 0, len(merged))
	for key, p := range merged {
		registry[key] = p
		names = append(names, key)
	}
	sort.Strings(names)
	return names, nil
}

// LoadPlatformFile is LoadPlatforms over a file path.
func LoadPlatformFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open platforms: %w", err)
	}
	defer f.Close()
	return LoadPlatforms(f)
}

// #endregion

// WithOverrides applies caller settings ("maxChars", "hashtags") on top of
// the registry defaults. Unusable values are ignored.
func (p Platform) WithOverrides(cfg map[string]any) Platform {
	if n, ok := intSetting(cfg["maxChars"]); ok && n > 0 {
		p.MaxChars = n
	}
	if n, ok := intSetting(cfg["hashtags"]); ok && n >= 0 {
		p.MaxHashtags = n
	}
	if g, ok := cfg["guidance"].(string); ok && strings.TrimSpace(g) != "" {
		p.Guidance = strings.TrimSpace(g)
	}
	return p
}

func intSetting(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64: // decoded JSON numbers
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}
