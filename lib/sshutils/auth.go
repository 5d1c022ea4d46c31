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
	"errors"
	"io"
	"net"
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/sshutils/keys"
)

// PassphrasePrompt obtains the passphrase for an encrypted private key.
type PassphrasePrompt func(path string) (string, error)

// AuthResolver builds the ordered list of authentication methods for a new
// SSH transport: the agent first when one is reachable, then the local keys
// in preference order with cached passphrases. One resolver is shared by
// every target of a run so unlocks are paid once.
type AuthResolver struct {
	// Store supplies the discovered local keys.
	Store *keys.Store
	// Cache holds passphrases across targets.
	Cache *keys.PassphraseCache
	// Prompt, when set, is asked for missing passphrases. Without it an
	// encrypted key surfaces NeedsPassphraseError.
	Prompt PassphrasePrompt
	// Key, when set, restricts local-key authentication to this one key.
	Key *keys.Key
	// AgentDial overrides agent discovery, used in tests.
	AgentDial func() (agent.ExtendedAgent, io.Closer, error)
	// Log optionally overrides the logger.
	Log log.FieldLogger
}

// CheckAndSetDefaults fills unset fields.
func (r *AuthResolver) CheckAndSetDefaults() error {
	if r.Store == nil {
		store, err := keys.NewStore()
		if err != nil {
			return trace.Wrap(err)
		}
		r.Store = store
	}
	if r.Cache == nil {
		r.Cache = keys.NewPassphraseCache()
	}
	if r.AgentDial == nil {
		r.AgentDial = dialAgent
	}
	if r.Log == nil {
		r.Log = log.WithField(trace.Component, xsshend.ComponentSession)
	}
	return nil
}

// dialAgent connects to the agent advertised by SSH_AUTH_SOCK.
func dialAgent() (agent.ExtendedAgent, io.Closer, error) {
	socket := os.Getenv(xsshend.AgentSocketEnv)
	if socket == "" {
		return nil, nil, trace.NotFound("%v is not set", xsshend.AgentSocketEnv)
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, trace.ConvertSystemError(err)
	}
	return agent.NewClient(conn), conn, nil
}

// Methods returns the ordered ssh.AuthMethod list for one new transport
// plus a closer releasing the agent connection, if any. When no method is
// available at all the returned error is AuthExhaustedError (possibly
// wrapping NeedsPassphraseError when an interactive unlock could help).
func (r *AuthResolver) Methods() ([]ssh.AuthMethod, io.Closer, error) {
	if err := r.CheckAndSetDefaults(); err != nil {
		return nil, nil, trace.Wrap(err)
	}

	var methods []ssh.AuthMethod
	var closer io.Closer

	sshAgent, conn, err := r.AgentDial()
	if err == nil {
		methods = append(methods, ssh.PublicKeysCallback(sshAgent.Signers))
		closer = conn
		r.Log.Debug("SSH agent is reachable, trying agent identities first.")
	} else {
		r.Log.Debugf("SSH agent is not available: %v.", err)
	}

	signers, lastErr := r.localSigners()
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		if closer != nil {
			closer.Close()
		}
		if lastErr == nil {
			lastErr = trace.NotFound("no SSH keys found and no agent available")
		}
		return nil, nil, &AuthExhaustedError{Err: lastErr}
	}
	return methods, closer, nil
}

// localSigners unlocks the candidate keys in preference order. A key that
// fails to unlock is skipped; the last failure is returned for error
// reporting.
func (r *AuthResolver) localSigners() ([]ssh.Signer, error) {
	candidates := r.Store.Ordered()
	if r.Key != nil {
		candidates = []keys.Key{*r.Key}
	}

	var signers []ssh.Signer
	var lastErr error
	for _, key := range candidates {
		signer, err := r.unlock(key)
		if err != nil {
			r.Log.Debugf("Skipping key %v: %v.", key.Name, err)
			lastErr = err
			continue
		}
		signers = append(signers, signer)
	}
	return signers, lastErr
}

// unlock parses a private key using the cached passphrase, prompting for a
// missing one when a prompt is configured. A wrong passphrase is an error
// for this key only, never a panic.
func (r *AuthResolver) unlock(key keys.Key) (ssh.Signer, error) {
	data, err := os.ReadFile(key.PrivatePath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	if unlocked, ok := r.Cache.Get(key.PrivatePath); ok && unlocked.Passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(unlocked.Passphrase))
		if err != nil {
			return nil, trace.BadParameter("cached passphrase no longer opens %v", key.PrivatePath)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		r.Cache.Set(key, "")
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, trace.BadParameter("could not parse key %v: %v", key.PrivatePath, err)
	}
	if r.Prompt == nil {
		return nil, &NeedsPassphraseError{Path: key.PrivatePath}
	}

	passphrase, err := r.Prompt(key.PrivatePath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	if err != nil {
		return nil, trace.BadParameter("passphrase does not open %v", key.PrivatePath)
	}
	r.Cache.Set(key, passphrase)
	r.Log.Debugf("Unlocked key %v.", key.Description())
	return signer, nil
}
