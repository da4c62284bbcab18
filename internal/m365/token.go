package m365

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/looplj/m365gateway/internal/log"
)

// expirySkew is the minimum remaining lifetime a cached token must have to be
// reused, per §4.9's "Expiry > now + 60s" rule.
const expirySkew = 60 * time.Second

// TokenAcquirer is the external collaborator that refreshes the on-disk
// token file — the browser-driven token-harvest subprocess is out of scope
// for this module; the provider only consumes its result through this
// narrow interface.
type TokenAcquirer interface {
	Acquire(ctx context.Context) error
}

// CommandAcquirer runs a configured external command to (re)produce the
// token file, e.g. a browser automation script. It is a thin os/exec
// wrapper; no third-party library in the corpus covers ad hoc subprocess
// invocation any better than the standard library here.
type CommandAcquirer struct {
	Name string
	Args []string
}

func (a CommandAcquirer) Acquire(ctx context.Context) error {
	if a.Name == "" {
		return fmt.Errorf("token acquire command is not configured")
	}

	cmd := exec.CommandContext(ctx, a.Name, a.Args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("token acquire command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}

// TokenProvider is C9: it resolves the bearer credential for upstream calls.
type TokenProvider struct {
	ignoreInboundHeader bool
	tokenFilePath       string
	acquirer            TokenAcquirer

	sf singleflight.Group

	mu     sync.RWMutex
	cached *oauth2.Token
}

func NewTokenProvider(tokenFilePath string, acquirer TokenAcquirer, ignoreInboundHeader bool) *TokenProvider {
	return &TokenProvider{
		tokenFilePath:       tokenFilePath,
		acquirer:            acquirer,
		ignoreInboundHeader: ignoreInboundHeader,
	}
}

// ResolveAuthorizationHeader implements the priority chain: inbound header,
// then a cached token whose expiry is comfortably in the future, then a
// single-flight-serialized external acquisition. Returns an error when no
// acquirer is configured, acquisition fails, or the token file cannot be
// read after acquisition.
func (p *TokenProvider) ResolveAuthorizationHeader(ctx context.Context, inbound string) (string, error) {
	if !p.ignoreInboundHeader && inbound != "" {
		return inbound, nil
	}

	if tok := p.validCached(); tok != nil {
		return "Bearer " + tok.AccessToken, nil
	}

	tok, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}

	if tok == nil {
		return "", nil
	}

	return "Bearer " + tok.AccessToken, nil
}

func (p *TokenProvider) validCached() *oauth2.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.cached == nil || p.cached.AccessToken == "" {
		return nil
	}

	if !p.cached.Expiry.IsZero() && time.Now().Add(expirySkew).After(p.cached.Expiry) {
		return nil
	}

	return p.cached
}

// acquire runs one single-flight-serialized token-file refresh: the second
// concurrent caller awaits the first's result instead of spawning a
// duplicate subprocess.
func (p *TokenProvider) acquire(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := p.sf.Do("acquire", func() (any, error) {
		if tok := p.validCached(); tok != nil {
			return tok, nil
		}

		if tok, err := p.readTokenFile(); err == nil {
			p.setCached(tok)

			if !tok.Expiry.IsZero() && time.Now().Add(expirySkew).Before(tok.Expiry) {
				return tok, nil
			}
		}

		if p.acquirer == nil {
			return nil, fmt.Errorf("no token acquirer configured")
		}

		if err := p.acquirer.Acquire(ctx); err != nil {
			log.Warn(ctx, "token acquisition failed", log.Cause(err))

			return nil, err
		}

		tok, err := p.readTokenFile()
		if err != nil {
			return nil, fmt.Errorf("read token file after acquisition: %w", err)
		}

		p.setCached(tok)

		return tok, nil
	})
	if err != nil {
		return nil, err
	}

	tok, _ := v.(*oauth2.Token)

	return tok, nil
}

func (p *TokenProvider) setCached(tok *oauth2.Token) {
	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()
}

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

func (p *TokenProvider) readTokenFile() (*oauth2.Token, error) {
	if p.tokenFilePath == "" {
		return nil, fmt.Errorf("token file path is not configured")
	}

	data, err := os.ReadFile(p.tokenFilePath)
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}

	if tf.AccessToken == "" {
		return nil, fmt.Errorf("token file missing access_token")
	}

	return &oauth2.Token{AccessToken: tf.AccessToken, Expiry: tf.Expiry}, nil
}
