package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/credential/credentialsrv"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/quota"
	"github.com/Abraxas-365/manifesto/pkg/quota/quotasrv"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/upstream"
	"github.com/Abraxas-365/manifesto/pkg/usagelog"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"google.golang.org/genai"
)

// --- in-memory fakes covering just enough of each repository interface
// to exercise the retry/failover loop end to end without a database. ---

type fakeCredRepo struct {
	mu    sync.Mutex
	creds map[kernel.CredentialID]*credential.Credential
}

func newFakeCredRepo(creds ...*credential.Credential) *fakeCredRepo {
	r := &fakeCredRepo{creds: map[kernel.CredentialID]*credential.Credential{}}
	for _, c := range creds {
		r.creds[c.ID] = c
	}
	return r
}

func (r *fakeCredRepo) Create(ctx context.Context, c credential.Credential) error { return nil }
func (r *fakeCredRepo) FindByID(ctx context.Context, id kernel.CredentialID) (*credential.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[id]; ok {
		return c, nil
	}
	return nil, credential.ErrNotFound()
}
func (r *fakeCredRepo) FindByEmail(ctx context.Context, email string) (*credential.Credential, error) {
	return nil, credential.ErrNotFound()
}
func (r *fakeCredRepo) FindByRefreshTokenHash(ctx context.Context, hash string) (*credential.Credential, error) {
	return nil, credential.ErrNotFound()
}
func (r *fakeCredRepo) Update(ctx context.Context, c credential.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[c.ID] = &c
	return nil
}
func (r *fakeCredRepo) Delete(ctx context.Context, id kernel.CredentialID) error { return nil }
func (r *fakeCredRepo) DeleteBatch(ctx context.Context, ids []kernel.CredentialID) error {
	return nil
}
func (r *fakeCredRepo) ListByOwner(ctx context.Context, ownerID kernel.UserID) ([]*credential.Credential, error) {
	return nil, nil
}
func (r *fakeCredRepo) List(ctx context.Context, offset, limit int) ([]*credential.Credential, int, error) {
	return nil, 0, nil
}

// Select returns the first selectable credential, in ascending ID order,
// not present in params.ExcludedIDs, mirroring the real repository's exclusion filter
// without needing SQL.
func (r *fakeCredRepo) Select(ctx context.Context, params credential.SelectionParams) (*credential.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := map[kernel.CredentialID]bool{}
	for _, id := range params.ExcludedIDs {
		excluded[id] = true
	}
	ids := make([]kernel.CredentialID, 0, len(r.creds))
	for id := range r.creds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c := r.creds[id]
		if excluded[c.ID] || !c.IsSelectable() {
			continue
		}
		return c, nil
	}
	return nil, credential.ErrNoneAvailable("no candidate credential")
}

func (r *fakeCredRepo) RecordFailure(ctx context.Context, id kernel.CredentialID, errText string, clawbackDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[id]; ok {
		c.FailedRequests++
		c.LastError = errText
	}
	return nil
}
func (r *fakeCredRepo) CountActiveByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return 0, nil
}
func (r *fakeCredRepo) CountActiveTier3ByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return 0, nil
}
func (r *fakeCredRepo) CountActivePublicByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return 0, nil
}
func (r *fakeCredRepo) Stats(ctx context.Context) (credential.Stats, error) {
	return credential.Stats{}, nil
}

type fakeUserRepo struct{ u user.User }

func (r *fakeUserRepo) Create(ctx context.Context, u user.User) error { return nil }
func (r *fakeUserRepo) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return &r.u, nil
}
func (r *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	return &r.u, nil
}
func (r *fakeUserRepo) FindByDiscordID(ctx context.Context, discordID string) (*user.User, error) {
	return &r.u, nil
}
func (r *fakeUserRepo) Update(ctx context.Context, u user.User) error           { return nil }
func (r *fakeUserRepo) ApplyBonusDelta(ctx context.Context, id kernel.UserID, delta int) error {
	return nil
}
func (r *fakeUserRepo) Delete(ctx context.Context, id kernel.UserID) error { return nil }

type fakeConfigRepo struct{}

func (fakeConfigRepo) LoadAll(ctx context.Context) ([]sysconfig.ConfigEntry, error) { return nil, nil }
func (fakeConfigRepo) Upsert(ctx context.Context, key, value string) error          { return nil }

type fakeUsageRepo struct {
	mu      sync.Mutex
	written int
}

func (r *fakeUsageRepo) Write(ctx context.Context, entry usagelog.UsageLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written++
	return nil
}
func (r *fakeUsageRepo) CountSince(ctx context.Context, userID kernel.UserID, since time.Time) (int, error) {
	return 0, nil
}
func (r *fakeUsageRepo) CountSinceByGroup(ctx context.Context, userID kernel.UserID, since time.Time, group credential.ModelGroup) (int, error) {
	return 0, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(ctx context.Context, userID kernel.UserID, limit int) (bool, error) {
	return true, nil
}

type fakeRefresher struct{ failFor kernel.CredentialID }

func (f *fakeRefresher) Refresh(ctx context.Context, cred *credential.Credential) (string, string, error) {
	if cred.ID == f.failFor {
		return "", "", upstream.NewUpstreamError(401, "PERMISSION_DENIED")
	}
	return "token-" + string(cred.ID), "", nil
}

// fakeUpstream fails every credential in failFor with the given error,
// and otherwise succeeds. It records the last StreamMode it was invoked
// with so tests can assert the dispatcher resolved and forwarded it.
type fakeUpstream struct {
	failFor  map[string]error
	lastMode upstream.StreamMode
}

func (f *fakeUpstream) Generate(ctx context.Context, accessToken string, env *upstream.CodeAssistEnvelope) (*genai.GenerateContentResponse, string, error) {
	if err, ok := f.failFor[accessToken]; ok {
		return nil, "", err
	}
	return &genai.GenerateContentResponse{}, "gemini-2.5-flash-001", nil
}

func (f *fakeUpstream) GenerateStream(ctx context.Context, accessToken string, env *upstream.CodeAssistEnvelope, mode upstream.StreamMode, onFrame func(upstream.Frame) error) error {
	f.lastMode = mode
	if err, ok := f.failFor[accessToken]; ok {
		return err
	}
	return onFrame(upstream.Frame{Response: &genai.GenerateContentResponse{}})
}

func testCredential(id kernel.CredentialID) *credential.Credential {
	return &credential.Credential{
		ID:        id,
		ProjectID: "proj-" + string(id),
		IsActive:  true,
		ModelTier: credential.Tier25,
	}
}

func newTestDispatcher(t *testing.T, credRepo credential.Repository, refresher Refresher, up UpstreamInvoker) *Dispatcher {
	t.Helper()

	registry, err := sysconfig.NewRegistry(context.Background(), fakeConfigRepo{})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	userRepo := &fakeUserRepo{u: user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}}
	notifier := noopNotifier{}
	pool := credentialsrv.NewPool(credRepo, userRepo, registry, notifier)

	quotaSvc := quotasrv.NewService(&fakeUsageRepo{}, userRepo, credRepo, allowAllLimiter{}, registry)

	return NewDispatcher(pool, refresher, up, quotaSvc, credRepo, registry)
}

type noopNotifier struct{}

func (noopNotifier) NotifyCredentialDisabled(ctx context.Context, ownerEmail, displayName, reason string) {
}

func TestDispatcherGenerateSucceedsOnFirstCredential(t *testing.T) {
	cred := testCredential("c1")
	credRepo := newFakeCredRepo(cred)
	refresher := &fakeRefresher{}
	up := &fakeUpstream{failFor: map[string]error{}}

	d := newTestDispatcher(t, credRepo, refresher, up)
	u := &user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}

	outcome, err := d.Generate(context.Background(), u, nil, "gemini-2.5-flash", "", &upstream.GenerateContentBody{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.CredentialID != cred.ID {
		t.Fatalf("used credential %v, want %v", outcome.CredentialID, cred.ID)
	}
}

func TestDispatcherRetriesOnRetryableFailure(t *testing.T) {
	bad := testCredential("bad")
	good := testCredential("good")
	credRepo := newFakeCredRepo(bad, good)
	refresher := &fakeRefresher{}
	up := &fakeUpstream{failFor: map[string]error{
		"token-bad": upstream.NewUpstreamError(429, "RESOURCE_EXHAUSTED"),
	}}

	d := newTestDispatcher(t, credRepo, refresher, up)
	u := &user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}

	outcome, err := d.Generate(context.Background(), u, nil, "gemini-2.5-flash", "", &upstream.GenerateContentBody{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.CredentialID != good.ID {
		t.Fatalf("expected fallback to good credential, got %v", outcome.CredentialID)
	}
	if bad.FailedRequests == 0 {
		t.Fatal("expected bad credential's failure to be recorded")
	}
}

func TestDispatcherExhaustsRetriesAndReturnsError(t *testing.T) {
	cred := testCredential("only")
	credRepo := newFakeCredRepo(cred)
	refresher := &fakeRefresher{}
	up := &fakeUpstream{failFor: map[string]error{
		"token-only": upstream.NewUpstreamError(500, "internal"),
	}}

	d := newTestDispatcher(t, credRepo, refresher, up)
	u := &user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}

	_, err := d.Generate(context.Background(), u, nil, "gemini-2.5-flash", "", &upstream.GenerateContentBody{})
	if err == nil {
		t.Fatal("expected an error once every credential is exhausted")
	}
}

func TestDispatcherGenerateStreamResolvesStreamModeFromModelPrefix(t *testing.T) {
	cred := testCredential("c1")
	credRepo := newFakeCredRepo(cred)
	refresher := &fakeRefresher{}
	up := &fakeUpstream{failFor: map[string]error{}}

	d := newTestDispatcher(t, credRepo, refresher, up)
	u := &user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}

	cases := []struct {
		model string
		want  upstream.StreamMode
	}{
		{"gemini-2.5-flash", upstream.StreamPassthrough},
		{"假流式/gemini-2.5-flash", upstream.StreamFake},
		{"流式抗截断/gemini-2.5-flash", upstream.StreamAntiTruncation},
	}

	for _, tc := range cases {
		err := d.GenerateStream(context.Background(), u, nil, tc.model, &upstream.GenerateContentBody{}, func(upstream.Frame) error { return nil })
		if err != nil {
			t.Fatalf("model %q: unexpected error: %v", tc.model, err)
		}
		if up.lastMode != tc.want {
			t.Fatalf("model %q: upstream invoked with mode %v, want %v", tc.model, up.lastMode, tc.want)
		}
	}
}

func TestDispatcherPropagatesFatalNonRetryableError(t *testing.T) {
	cred := testCredential("c1")
	credRepo := newFakeCredRepo(cred)
	refresher := &fakeRefresher{}
	up := &fakeUpstream{failFor: map[string]error{
		"token-c1": upstream.NewUpstreamError(400, "INVALID_ARGUMENT"),
	}}

	d := newTestDispatcher(t, credRepo, refresher, up)
	u := &user.User{ID: kernel.NewUserID("u1"), IsActive: true, BaseQuota: 1000}

	_, err := d.Generate(context.Background(), u, nil, "gemini-2.5-flash", "", &upstream.GenerateContentBody{})
	if err == nil {
		t.Fatal("expected the fatal error to propagate without retry")
	}
	if upErr, ok := err.(*upstream.UpstreamError); !ok || upErr.StatusCode != 400 {
		t.Fatalf("expected the original 400 upstream error, got %v", err)
	}
}
