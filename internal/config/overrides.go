package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// siteOverridesFile is the shape of the standalone per-site overrides
// document: a bare list of site entries, merged over the main config's
// sites by name.
type siteOverridesFile struct {
	Sites []SiteConfig `yaml:"sites"`
}

// ApplySiteOverrides reads the YAML overrides file at path and merges its
// entries into c.Sites: an entry whose name matches an existing site
// replaces it wholesale, anything else is appended as a new site. A
// missing file is not an error; operators often deploy the overrides file
// separately from the base config.
func (c *Config) ApplySiteOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read site overrides %s: %w", path, err)
	}

	var overrides siteOverridesFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse site overrides %s: %w", path, err)
	}

	for _, site := range overrides.Sites {
		replaced := false
		for i := range c.Sites {
			if c.Sites[i].Name == site.Name {
				c.Sites[i] = site
				replaced = true
				break
			}
		}
		if !replaced {
			c.Sites = append(c.Sites, site)
		}
	}
	return nil
}
