package application

import "sync"

// CredentialProvider enables runtime hot-swap of the active credential. It
// holds a mutex-protected reference to the secret currently selected for new
// jobs, allowing the rotator (or a registration through the API) to change it
// without restarting the application. Jobs already in flight keep the
// credential they started with.
type CredentialProvider struct {
	mu         sync.RWMutex
	credential string
}

// NewCredentialProvider creates a provider with the given initial credential.
// credential may be empty if none is configured at startup.
func NewCredentialProvider(credential string) *CredentialProvider {
	return &CredentialProvider{credential: credential}
}

// Active returns the credential new jobs should use. Callers should check for
// the empty string if the provider was created without an initial credential.
func (p *CredentialProvider) Active() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credential
}

// Replace swaps the active credential. The next caller of Active receives the
// new value.
func (p *CredentialProvider) Replace(credential string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credential = credential
}

// HasCredential returns true if a non-empty credential is currently held.
func (p *CredentialProvider) HasCredential() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credential != ""
}
