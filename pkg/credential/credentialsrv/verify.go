package credentialsrv

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
)

// Prober is the narrow surface verify.go needs from the upstream client
// (pkg/upstream), kept local so credentialsrv never imports upstream
// directly — the dependency runs the other way at composition time in
// cmd/, where the concrete prober is handed in.
type Prober interface {
	// ProbeGenerate issues a minimal generateContent call and returns the
	// HTTP status code observed (or an error for a transport failure).
	ProbeGenerate(ctx context.Context, accessToken, projectID, model string) (statusCode int, err error)
}

// DriveStorageChecker resolves the Google Drive storage-quota heuristic
// used to classify account type (spec.md §4.4).
type DriveStorageChecker interface {
	// StorageQuotaBytes returns the Drive about.storageQuota limit, or
	// ok=false if the Drive scope is unauthorized for this token.
	StorageQuotaBytes(ctx context.Context, accessToken string) (limit int64, ok bool)
}

const proTierStorageThreshold = 2 * 1024 * 1024 * 1024 * 1024 // 2 TiB

// VerificationResult is the outcome of probing a credential, per
// spec.md §4.4.
type VerificationResult struct {
	IsValid     bool
	Tier        credential.Tier
	AccountType credential.AccountType
	Error       string
}

// Verifier implements spec.md §4.4's verify(credential) operation.
type Verifier struct {
	prober Prober
	drive  DriveStorageChecker
}

func NewVerifier(prober Prober, drive DriveStorageChecker) *Verifier {
	return &Verifier{prober: prober, drive: drive}
}

// Verify probes accessToken/projectID against Code Assist with the flash
// model first (200 or 429 both count as valid), then pro to resolve tier,
// then Drive (falling back to a rate-limit heuristic) to resolve account
// type.
func (v *Verifier) Verify(ctx context.Context, accessToken, projectID string) VerificationResult {
	flashStatus, err := v.prober.ProbeGenerate(ctx, accessToken, projectID, "gemini-2.5-flash")
	if err != nil || !isValidProbeStatus(flashStatus) {
		msg := "flash probe failed"
		if err != nil {
			msg = err.Error()
		}
		return VerificationResult{IsValid: false, Error: msg}
	}

	tier := credential.Tier25
	proStatus, err := v.prober.ProbeGenerate(ctx, accessToken, projectID, "gemini-3-pro-preview")
	if err == nil && isValidProbeStatus(proStatus) {
		tier = credential.Tier3
	}

	accountType := v.detectAccountType(ctx, accessToken)

	return VerificationResult{IsValid: true, Tier: tier, AccountType: accountType}
}

func isValidProbeStatus(status int) bool {
	return status == 200 || status == 429
}

func (v *Verifier) detectAccountType(ctx context.Context, accessToken string) credential.AccountType {
	if v.drive != nil {
		if limit, ok := v.drive.StorageQuotaBytes(ctx, accessToken); ok {
			if limit >= proTierStorageThreshold {
				return credential.AccountPro
			}
			return credential.AccountFree
		}
	}
	return v.rateLimitHeuristic(ctx, accessToken)
}

// rateLimitHeuristic issues three consecutive unary calls; if none trigger
// a per-minute 429, the account is classified pro (spec.md §4.4's
// documented fallback when Drive is unauthorized).
func (v *Verifier) rateLimitHeuristic(ctx context.Context, accessToken string) credential.AccountType {
	for i := 0; i < 3; i++ {
		status, err := v.prober.ProbeGenerate(ctx, accessToken, "", "gemini-2.5-flash")
		if err != nil {
			return credential.AccountUnknown
		}
		if status == 429 {
			return credential.AccountFree
		}
		time.Sleep(200 * time.Millisecond)
	}
	return credential.AccountPro
}

// IsTransientError reports whether verification failed for a reason worth
// retrying rather than permanently marking the credential invalid.
func IsTransientError(msg string) bool {
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}
