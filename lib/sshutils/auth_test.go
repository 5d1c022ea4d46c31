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

package sshutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/willisback/xsshend/lib/sshutils/keys"
)

func writeKey(t *testing.T, dir, name string, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func noAgent() (agent.ExtendedAgent, io.Closer, error) {
	return nil, nil, os.ErrNotExist
}

func TestMethodsExhaustedWithoutCandidates(t *testing.T) {
	t.Parallel()

	resolver := &AuthResolver{
		Store:     keys.NewStoreFromDir(filepath.Join(t.TempDir(), "none")),
		AgentDial: noAgent,
	}
	_, _, err := resolver.Methods()
	require.True(t, IsAuthExhausted(err))
}

func TestMethodsPrefersAgent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeKey(t, dir, "id_ed25519", "")
	resolver := &AuthResolver{
		Store: keys.NewStoreFromDir(dir),
		AgentDial: func() (agent.ExtendedAgent, io.Closer, error) {
			return agent.NewKeyring().(agent.ExtendedAgent), nil, nil
		},
	}
	methods, _, err := resolver.Methods()
	require.NoError(t, err)
	// Agent identities first, then the local keys.
	require.Len(t, methods, 2)
}

func TestMethodsUnlocksLocalKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeKey(t, dir, "id_ed25519", "")
	resolver := &AuthResolver{
		Store:     keys.NewStoreFromDir(dir),
		Cache:     keys.NewPassphraseCache(),
		AgentDial: noAgent,
	}
	methods, closer, err := resolver.Methods()
	require.NoError(t, err)
	require.Nil(t, closer)
	require.Len(t, methods, 1)

	// The no-passphrase unlock is cached with its key record.
	cached, ok := resolver.Cache.Get(path)
	require.True(t, ok)
	require.Empty(t, cached.Passphrase)
	require.Equal(t, path, cached.Key.PrivatePath)
}

func TestMethodsSurfacesNeedsPassphrase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeKey(t, dir, "id_ed25519", "open sesame")
	resolver := &AuthResolver{
		Store:     keys.NewStoreFromDir(dir),
		AgentDial: noAgent,
	}
	_, _, err := resolver.Methods()
	require.True(t, IsAuthExhausted(err))
	require.True(t, IsNeedsPassphrase(err))

	var passErr *NeedsPassphraseError
	require.ErrorAs(t, err, &passErr)
	require.Equal(t, path, passErr.Path)
}

func TestMethodsPromptUnlocksAndCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeKey(t, dir, "id_ed25519", "open sesame")
	prompts := 0
	resolver := &AuthResolver{
		Store:     keys.NewStoreFromDir(dir),
		Cache:     keys.NewPassphraseCache(),
		AgentDial: noAgent,
		Prompt: func(string) (string, error) {
			prompts++
			return "open sesame", nil
		},
	}

	methods, _, err := resolver.Methods()
	require.NoError(t, err)
	require.Len(t, methods, 1)
	require.Equal(t, 1, prompts)

	cached, ok := resolver.Cache.Get(path)
	require.True(t, ok)
	require.Equal(t, "open sesame", cached.Passphrase)

	// The cached passphrase is reused for the next target.
	_, _, err = resolver.Methods()
	require.NoError(t, err)
	require.Equal(t, 1, prompts)
}

func TestMethodsWrongPassphraseMovesOn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeKey(t, dir, "locked_ed25519", "open sesame")
	plain := writeKey(t, dir, "id_rsa", "")
	resolver := &AuthResolver{
		Store:     keys.NewStoreFromDir(dir),
		Cache:     keys.NewPassphraseCache(),
		AgentDial: noAgent,
		Prompt: func(string) (string, error) {
			return "wrong", nil
		},
	}

	// The encrypted key is skipped, the plain one still authenticates.
	methods, _, err := resolver.Methods()
	require.NoError(t, err)
	require.Len(t, methods, 1)
	_, ok := resolver.Cache.Get(plain)
	require.True(t, ok)
}

func TestMethodsRestrictedToOneKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeKey(t, dir, "id_ed25519", "")
	writeKey(t, dir, "id_rsa", "")
	store := keys.NewStoreFromDir(dir)
	only, err := store.Find("id_rsa")
	require.NoError(t, err)

	resolver := &AuthResolver{
		Store:     store,
		Cache:     keys.NewPassphraseCache(),
		AgentDial: noAgent,
		Key:       &only,
	}
	methods, _, err := resolver.Methods()
	require.NoError(t, err)
	require.Len(t, methods, 1)
	_, ok := resolver.Cache.Get(only.PrivatePath)
	require.True(t, ok)
}
