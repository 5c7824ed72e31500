package dispatch

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialsrv"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/quota/quotasrv"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/upstream"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"google.golang.org/genai"
)

// Refresher is the narrow surface dispatch needs from credentialinfra's
// OAuth refresher, kept local per the pool/verify packages' own dependency-
// inversion pattern.
type Refresher interface {
	Refresh(ctx context.Context, cred *credential.Credential) (plaintextAccessToken string, ciphertext string, err error)
}

// UpstreamInvoker is the narrow surface dispatch needs from pkg/upstream.
type UpstreamInvoker interface {
	Generate(ctx context.Context, accessToken string, env *upstream.CodeAssistEnvelope) (*genai.GenerateContentResponse, string, error)
	GenerateStream(ctx context.Context, accessToken string, env *upstream.CodeAssistEnvelope, mode upstream.StreamMode, onFrame func(upstream.Frame) error) error
}

// Dispatcher implements spec.md §4.7's retry/failover loop.
type Dispatcher struct {
	pool      *credentialsrv.Pool
	refresher Refresher
	upstream  UpstreamInvoker
	quota     *quotasrv.Service
	credRepo  credential.Repository
	registry  *sysconfig.Registry
}

func NewDispatcher(pool *credentialsrv.Pool, refresher Refresher, up UpstreamInvoker, quota *quotasrv.Service, credRepo credential.Repository, registry *sysconfig.Registry) *Dispatcher {
	return &Dispatcher{pool: pool, refresher: refresher, upstream: up, quota: quota, credRepo: credRepo, registry: registry}
}

// Outcome is one dispatched attempt's result, used by handlers.go to
// translate and respond.
type Outcome struct {
	Response     *genai.GenerateContentResponse
	ModelVersion string
	CredentialID kernel.CredentialID
	StatusCode   int
}

// Generate runs the full retry/failover loop for a unary request.
func (d *Dispatcher) Generate(ctx context.Context, u *user.User, apiKeyID *kernel.APIKeyID, model, projectIDHint string, body *upstream.GenerateContentBody) (*Outcome, error) {
	return d.attempt(ctx, u, apiKeyID, model, body, false, nil)
}

// GenerateStream runs the retry/failover loop for a streaming request,
// invoking onFrame for every translated frame of whichever attempt
// ultimately succeeds.
func (d *Dispatcher) GenerateStream(ctx context.Context, u *user.User, apiKeyID *kernel.APIKeyID, model string, body *upstream.GenerateContentBody, onFrame func(upstream.Frame) error) error {
	_, err := d.attempt(ctx, u, apiKeyID, model, body, true, onFrame)
	return err
}

func (d *Dispatcher) attempt(ctx context.Context, u *user.User, apiKeyID *kernel.APIKeyID, model string, body *upstream.GenerateContentBody, streaming bool, onFrame func(upstream.Frame) error) (*Outcome, error) {
	cfg := d.registry.Get()
	parsed := upstream.ParseModel(model)

	var tried []kernel.CredentialID
	maxAttempts := 1 + cfg.ErrorRetryCount

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		cred, err := d.pool.Select(ctx, u.ID, parsed.BaseModel, tried)
		if err != nil {
			return nil, err
		}

		accessToken, _, err := d.refresher.Refresh(ctx, cred)
		if err != nil {
			d.pool.RecordFailure(ctx, cred, err.Error())
			tried = append(tried, cred.ID)
			lastErr = err
			continue
		}

		env := upstream.BuildEnvelope(cred.ProjectID, parsed, body)

		start := time.Now()
		var resp *genai.GenerateContentResponse
		var modelVersion string
		if streaming {
			err = d.upstream.GenerateStream(ctx, accessToken, env, parsed.StreamMode, onFrame)
		} else {
			resp, modelVersion, err = d.upstream.Generate(ctx, accessToken, env)
		}

		if err == nil {
			d.logSuccess(ctx, u.ID, apiKeyID, &cred.ID, model, 200, time.Since(start))
			return &Outcome{Response: resp, ModelVersion: modelVersion, CredentialID: cred.ID, StatusCode: 200}, nil
		}

		if upErr, ok := err.(*upstream.UpstreamError); ok {
			d.logFailure(ctx, u.ID, apiKeyID, &cred.ID, model, upErr.StatusCode, time.Since(start))
			if upErr.IsAuthFailure() || upErr.IsRetryable() {
				d.pool.RecordFailure(ctx, cred, upErr.Error())
				tried = append(tried, cred.ID)
				lastErr = err
				continue
			}
			return nil, upErr
		}

		d.pool.RecordFailure(ctx, cred, err.Error())
		tried = append(tried, cred.ID)
		lastErr = err
	}

	if lastErr != nil {
		logx.WithError(lastErr).WithField("model", model).Warn("dispatch exhausted retries")
	}
	return nil, ErrNoUpstream()
}

func (d *Dispatcher) logSuccess(ctx context.Context, userID kernel.UserID, apiKeyID *kernel.APIKeyID, credID *kernel.CredentialID, model string, status int, elapsed time.Duration) {
	if err := d.quota.RecordAttempt(ctx, userID, apiKeyID, credID, model, "generateContent", status, int(elapsed.Milliseconds())); err != nil {
		logx.WithError(err).Warn("failed to write usage log")
	}
}

func (d *Dispatcher) logFailure(ctx context.Context, userID kernel.UserID, apiKeyID *kernel.APIKeyID, credID *kernel.CredentialID, model string, status int, elapsed time.Duration) {
	if err := d.quota.RecordAttempt(ctx, userID, apiKeyID, credID, model, "generateContent", status, int(elapsed.Milliseconds())); err != nil {
		logx.WithError(err).Warn("failed to write usage log")
	}
}
