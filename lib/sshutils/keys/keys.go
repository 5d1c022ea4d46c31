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

// Package keys discovers private keys in the user's SSH directory and
// caches the passphrases that unlocked them.
package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/utils"
)

// Algorithm is the detected key algorithm.
type Algorithm int

const (
	// AlgorithmUnknown is any algorithm detection could not classify.
	AlgorithmUnknown Algorithm = iota
	// AlgorithmEd25519 is an Ed25519 key.
	AlgorithmEd25519
	// AlgorithmRSA is an RSA key.
	AlgorithmRSA
	// AlgorithmECDSA is an ECDSA key.
	AlgorithmECDSA
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmEd25519:
		return "Ed25519"
	case AlgorithmRSA:
		return "RSA"
	case AlgorithmECDSA:
		return "ECDSA"
	default:
		return "Unknown"
	}
}

// preference orders algorithms for automatic selection, best first.
func (a Algorithm) preference() int {
	switch a {
	case AlgorithmEd25519:
		return 0
	case AlgorithmRSA:
		return 1
	case AlgorithmECDSA:
		return 2
	default:
		return 3
	}
}

// Key describes one discovered private key. Keys are immutable after
// discovery; their material is never parsed here.
type Key struct {
	// Name is the file name inside the SSH directory.
	Name string
	// PrivatePath is the absolute path of the private key file.
	PrivatePath string
	// PublicPath is the sibling .pub file, empty when absent.
	PublicPath string
	// Algorithm is detected from the PEM header, falling back to file
	// name hints.
	Algorithm Algorithm
	// Comment is the trailing token of the public key, when present.
	Comment string
}

// Description renders the key for logs and prompts.
func (k Key) Description() string {
	desc := fmt.Sprintf("%v (%v)", k.Name, k.Algorithm)
	if k.Comment != "" {
		desc += " - " + k.Comment
	}
	return desc
}

// Unlocked pairs a key with the possibly empty passphrase that opened it.
// Unlocked records live in the PassphraseCache until process exit.
type Unlocked struct {
	Key        Key
	Passphrase string
}

// wellKnownNames are probed first, in this order.
var wellKnownNames = []string{"id_ed25519", "id_rsa", "id_ecdsa", "id_dsa"}

// skippedNames are never treated as private keys.
var skippedNames = map[string]bool{
	"config":          true,
	"known_hosts":     true,
	"authorized_keys": true,
}

// Store holds the keys discovered in one SSH directory.
type Store struct {
	dir  string
	keys []Key
	log  log.FieldLogger
}

// NewStore scans the user's SSH directory. A missing directory is reported
// in the logs but yields an empty store so callers can proceed with
// agent-only authentication.
func NewStore() (*Store, error) {
	dir, err := utils.SSHDir()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return NewStoreFromDir(dir), nil
}

// NewStoreFromDir scans the given directory.
func NewStoreFromDir(dir string) *Store {
	s := &Store{
		dir: dir,
		log: log.WithField(trace.Component, xsshend.ComponentKeys),
	}
	s.discover()
	return s
}

func (s *Store) discover() {
	if _, err := os.Stat(s.dir); err != nil {
		s.log.Debugf("SSH directory %v is not accessible: %v.", s.dir, err)
		return
	}

	for _, name := range wellKnownNames {
		path := filepath.Join(s.dir, name)
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			continue
		}
		s.keys = append(s.keys, newKey(name, path))
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Debugf("Could not sweep %v for additional keys: %v.", s.dir, err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || skippedNames[name] || strings.HasSuffix(name, ".pub") {
			continue
		}
		if isWellKnown(name) {
			continue
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(data), "PRIVATE KEY") {
			continue
		}
		s.keys = append(s.keys, newKey(name, path))
	}

	s.log.Debugf("Discovered %v SSH keys in %v.", len(s.keys), s.dir)
}

func isWellKnown(name string) bool {
	for _, known := range wellKnownNames {
		if name == known {
			return true
		}
	}
	return false
}

func newKey(name, path string) Key {
	key := Key{
		Name:        name,
		PrivatePath: path,
		Algorithm:   detectAlgorithm(path),
	}
	pubPath := path + ".pub"
	if utils.FileExists(pubPath) {
		key.PublicPath = pubPath
		key.Comment = extractComment(pubPath)
	}
	return key
}

// detectAlgorithm inspects the PEM header first, then falls back to file
// name hints. Key bodies are never parsed.
func detectAlgorithm(path string) Algorithm {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "BEGIN RSA PRIVATE KEY"):
			return AlgorithmRSA
		case strings.Contains(content, "BEGIN EC PRIVATE KEY"):
			return AlgorithmECDSA
		case strings.Contains(content, "BEGIN OPENSSH PRIVATE KEY"):
			if alg, ok := algorithmFromName(name); ok {
				return alg
			}
			return AlgorithmUnknown
		}
	}
	if alg, ok := algorithmFromName(name); ok {
		return alg
	}
	return AlgorithmUnknown
}

func algorithmFromName(name string) (Algorithm, bool) {
	switch {
	case strings.Contains(name, "ed25519"):
		return AlgorithmEd25519, true
	case strings.Contains(name, "rsa"):
		return AlgorithmRSA, true
	case strings.Contains(name, "ecdsa"):
		return AlgorithmECDSA, true
	}
	return AlgorithmUnknown, false
}

// extractComment returns the third whitespace token of the public key file,
// e.g. "user@laptop" in "ssh-ed25519 AAAA... user@laptop".
func extractComment(pubPath string) string {
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

// Keys returns the discovered keys in discovery order.
func (s *Store) Keys() []Key {
	out := make([]Key, len(s.keys))
	copy(out, s.keys)
	return out
}

// Ordered returns the keys sorted by selection preference: Ed25519 before
// RSA before ECDSA before anything else, ties broken by discovery order.
func (s *Store) Ordered() []Key {
	out := s.Keys()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Algorithm.preference() < out[j].Algorithm.preference()
	})
	return out
}

// Best returns the single preferred key, when any was discovered.
func (s *Store) Best() (Key, bool) {
	ordered := s.Ordered()
	if len(ordered) == 0 {
		return Key{}, false
	}
	return ordered[0], true
}

// Find returns the discovered key whose private path or name matches.
func (s *Store) Find(pathOrName string) (Key, error) {
	for _, key := range s.keys {
		if key.PrivatePath == pathOrName || key.Name == pathOrName {
			return key, nil
		}
	}
	return Key{}, trace.NotFound("no discovered key matches %q", pathOrName)
}

// PassphraseCache holds the Unlocked record of each opened private key,
// keyed by its path. Entries live until process exit and are never written
// to disk.
type PassphraseCache struct {
	mu sync.Mutex
	m  map[string]Unlocked
}

// NewPassphraseCache returns an empty cache.
func NewPassphraseCache() *PassphraseCache {
	return &PassphraseCache{m: make(map[string]Unlocked)}
}

// Get returns the Unlocked record for the key path.
func (c *PassphraseCache) Get(path string) (Unlocked, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	unlocked, ok := c.m[path]
	return unlocked, ok
}

// Set records that key was opened by passphrase. The empty string records
// a key that needs no passphrase.
func (c *PassphraseCache) Set(key Key, passphrase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key.PrivatePath] = Unlocked{Key: key, Passphrase: passphrase}
}
