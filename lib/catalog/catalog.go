/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package catalog loads and serves the four-level host hierarchy
// (environment, region, server type, host) that drives target selection.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/utils"
)

// Entry is a single host leaf of the catalog.
type Entry struct {
	// Alias is the connection string, "user@host[:port]".
	Alias string `json:"alias"`
	// Env is the environment label displayed next to the host.
	Env string `json:"env"`
}

// Target pairs the fully qualified name of a catalog leaf with its entry.
type Target struct {
	// Name is "env:region:type:host".
	Name string
	// Entry is the catalog leaf.
	Entry Entry
}

// Parse splits the target's alias into the user and the opaque hostport.
func (t Target) Parse() (user, hostport string, err error) {
	return utils.ParseAlias(t.Entry.Alias)
}

// Filter constrains catalog traversal. Empty fields are wildcards; set
// fields must match their level exactly (case-sensitive).
type Filter struct {
	Env    string
	Region string
	Type   string
}

// Catalog is the four-level host hierarchy. It is read-only after load.
type Catalog struct {
	// environments maps env -> region -> server type -> host name.
	environments map[string]map[string]map[string]map[string]Entry
}

// hierarchy is the JSON shape of the catalog document: the top-level keys
// are the environment names.
type hierarchy = map[string]map[string]map[string]map[string]Entry

// New returns an empty catalog. The empty catalog is valid and yields zero
// targets.
func New() *Catalog {
	return &Catalog{environments: make(hierarchy)}
}

// Path returns the location of the catalog document under the user's SSH
// directory.
func Path() (string, error) {
	dir, err := utils.SSHDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return filepath.Join(dir, xsshend.CatalogFileName), nil
}

// Load reads the catalog from its fixed location. A missing file is a
// configuration error carrying the expected path.
func Load() (*Catalog, error) {
	path, err := Path()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound(
				"host catalog not found at %v, run \"xsshend init\" to create one", path)
		}
		return nil, trace.ConvertSystemError(err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, trace.WrapWithMessage(err, "parsing host catalog %v", path)
	}
	log.WithField(trace.Component, xsshend.ComponentCatalog).
		Debugf("Loaded %v hosts from %v.", c.Count(), path)
	return c, nil
}

// Parse decodes a catalog document and validates every leaf alias.
func Parse(data []byte) (*Catalog, error) {
	var envs hierarchy
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, trace.BadParameter("invalid catalog document: %v", err)
	}
	if envs == nil {
		envs = make(hierarchy)
	}
	c := &Catalog{environments: envs}
	for _, t := range c.GetAllHosts() {
		if _, _, err := t.Parse(); err != nil {
			return nil, trace.BadParameter("host %v: %v", t.Name, err)
		}
	}
	return c, nil
}

// MarshalJSON renders the hierarchy with environment names as the top-level
// keys, the same shape Parse accepts.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.environments)
}

// Filter walks the hierarchy and returns the leaves matching f, sorted by
// fully qualified name.
func (c *Catalog) Filter(f Filter) []Target {
	var out []Target
	for envName, regions := range c.environments {
		if f.Env != "" && f.Env != envName {
			continue
		}
		for regionName, types := range regions {
			if f.Region != "" && f.Region != regionName {
				continue
			}
			for typeName, hosts := range types {
				if f.Type != "" && f.Type != typeName {
					continue
				}
				for hostName, entry := range hosts {
					out = append(out, Target{
						Name:  FullName(envName, regionName, typeName, hostName),
						Entry: entry,
					})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetAllHosts returns every leaf of the catalog.
func (c *Catalog) GetAllHosts() []Target {
	return c.Filter(Filter{})
}

// Count returns the number of leaves.
func (c *Catalog) Count() int {
	n := 0
	for _, regions := range c.environments {
		for _, types := range regions {
			for _, hosts := range types {
				n += len(hosts)
			}
		}
	}
	return n
}

// Environments returns the sorted environment names.
func (c *Catalog) Environments() []string {
	out := make([]string, 0, len(c.environments))
	for name := range c.environments {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Regions returns the sorted region names under env.
func (c *Catalog) Regions(env string) []string {
	var out []string
	for name := range c.environments[env] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Types returns the sorted server type names under env, across every region
// when region is empty.
func (c *Catalog) Types(env, region string) []string {
	seen := make(map[string]struct{})
	for regionName, types := range c.environments[env] {
		if region != "" && region != regionName {
			continue
		}
		for name := range types {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FullName builds the fully qualified name of a leaf.
func FullName(env, region, serverType, host string) string {
	return fmt.Sprintf("%v:%v:%v:%v", env, region, serverType, host)
}

// SplitName is the inverse of FullName.
func SplitName(name string) (env, region, serverType, host string, err error) {
	parts := strings.SplitN(name, ":", 4)
	if len(parts) != 4 {
		return "", "", "", "", trace.BadParameter("invalid target name %q", name)
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// Render writes the hierarchy as an indented tree, one level per column.
func (c *Catalog) Render(sb *strings.Builder, f Filter) {
	for _, envName := range c.Environments() {
		if f.Env != "" && f.Env != envName {
			continue
		}
		fmt.Fprintf(sb, "%v\n", envName)
		for _, regionName := range c.Regions(envName) {
			if f.Region != "" && f.Region != regionName {
				continue
			}
			fmt.Fprintf(sb, "  %v\n", regionName)
			types := c.environments[envName][regionName]
			typeNames := make([]string, 0, len(types))
			for name := range types {
				typeNames = append(typeNames, name)
			}
			sort.Strings(typeNames)
			for _, typeName := range typeNames {
				if f.Type != "" && f.Type != typeName {
					continue
				}
				fmt.Fprintf(sb, "    %v\n", typeName)
				hosts := types[typeName]
				hostNames := make([]string, 0, len(hosts))
				for name := range hosts {
					hostNames = append(hostNames, name)
				}
				sort.Strings(hostNames)
				for _, hostName := range hostNames {
					fmt.Fprintf(sb, "      %v -> %v\n", hostName, hosts[hostName].Alias)
				}
			}
		}
	}
}

// Sample returns the starter catalog document written by "xsshend init".
func Sample() []byte {
	return []byte(`{
  "Production": {
    "Region-A": {
      "Public": {
        "WEB_01": {"alias": "web01@prod-a.example.com", "env": "PROD"},
        "WEB_02": {"alias": "web02@prod-a.example.com", "env": "PROD"}
      },
      "Private": {
        "DB_01": {"alias": "db01@prod-a.example.com", "env": "PROD"}
      }
    }
  },
  "Staging": {
    "Region-A": {
      "Public": {
        "WEB_01": {"alias": "web01@stage-a.example.com", "env": "STAGE"}
      }
    }
  }
}
`)
}
