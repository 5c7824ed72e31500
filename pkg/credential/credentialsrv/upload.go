package credentialsrv

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/cryptox"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/google/uuid"
)

// UploadPayload is the credential-upload JSON shape (spec.md §6). Extra
// keys are ignored by encoding/json's default decode behavior.
type UploadPayload struct {
	RefreshToken string  `json:"refresh_token"`
	Token        string  `json:"token,omitempty"`
	ProjectID    string  `json:"project_id,omitempty"`
	Email        string  `json:"email,omitempty"`
	ClientID     string  `json:"client_id,omitempty"`
	ClientSecret string  `json:"client_secret,omitempty"`
}

// UploadService handles credential ingestion: single JSON payloads and ZIP
// archives of many, per spec.md §6.
type UploadService struct {
	repo     credential.Repository
	userRepo user.Repository
	vault    *cryptox.Vault
	registry *sysconfig.Registry
}

func NewUploadService(repo credential.Repository, userRepo user.Repository, vault *cryptox.Vault, registry *sysconfig.Registry) *UploadService {
	return &UploadService{repo: repo, userRepo: userRepo, vault: vault, registry: registry}
}

// UploadResult reports per-file outcome for a batch upload.
type UploadResult struct {
	Created int      `json:"created"`
	Skipped []string `json:"skipped"`
}

// UploadJSON ingests a single credential JSON payload for ownerID.
func (s *UploadService) UploadJSON(ctx context.Context, ownerID kernel.UserID, raw []byte) (*credential.Credential, error) {
	var payload UploadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, credential.ErrInvalidUpload("malformed json")
	}
	return s.ingest(ctx, ownerID, payload)
}

// UploadZip processes each contained .json file independently, skipping
// duplicates rather than failing the whole batch.
func (s *UploadService) UploadZip(ctx context.Context, ownerID kernel.UserID, zipBytes []byte) (*UploadResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, credential.ErrInvalidUpload("not a valid zip archive")
	}

	result := &UploadResult{}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}

		var payload UploadPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}

		if _, err := s.ingest(ctx, ownerID, payload); err != nil {
			logx.WithField("file", f.Name).Debugf("skipping credential upload: %v", err)
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}
		result.Created++
	}
	return result, nil
}

func (s *UploadService) ingest(ctx context.Context, ownerID kernel.UserID, payload UploadPayload) (*credential.Credential, error) {
	if payload.RefreshToken == "" {
		return nil, credential.ErrInvalidUpload("refresh_token is required")
	}

	hash := cryptox.HashRefreshToken(payload.RefreshToken)
	if existing, _ := s.repo.FindByRefreshTokenHash(ctx, hash); existing != nil {
		return nil, credential.ErrDuplicate()
	}
	if payload.Email != "" {
		if existing, _ := s.repo.FindByEmail(ctx, payload.Email); existing != nil {
			return nil, credential.ErrDuplicate()
		}
	}

	refreshCT, err := s.vault.Encrypt(payload.RefreshToken)
	if err != nil {
		return nil, err
	}

	var accessCT string
	if payload.Token != "" {
		accessCT, err = s.vault.Encrypt(payload.Token)
		if err != nil {
			return nil, err
		}
	}

	var clientIDCT, clientSecretCT *string
	if payload.ClientID != "" {
		ct, err := s.vault.Encrypt(payload.ClientID)
		if err != nil {
			return nil, err
		}
		clientIDCT = &ct
	}
	if payload.ClientSecret != "" {
		ct, err := s.vault.Encrypt(payload.ClientSecret)
		if err != nil {
			return nil, err
		}
		clientSecretCT = &ct
	}

	cfg := s.registry.Get()
	owner := ownerID
	newCred := credential.Credential{
		ID:                  kernel.NewCredentialID(uuid.NewString()),
		OwnerUserID:         &owner,
		DisplayName:         payload.Email,
		AccessTokenCT:       accessCT,
		RefreshTokenCT:      refreshCT,
		RefreshTokenHash:    hash,
		OAuthClientIDCT:     clientIDCT,
		OAuthClientSecretCT: clientSecretCT,
		ProjectID:           payload.ProjectID,
		CredentialType:      credential.TypeOAuth,
		ModelTier:           credential.Tier25,
		AccountType:         credential.AccountUnknown,
		Email:               payload.Email,
		IsPublic:            cfg.ForceDonate,
		IsActive:            true,
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, newCred); err != nil {
		return nil, errx.Wrap(err, "failed to save uploaded credential", errx.TypeInternal)
	}

	if newCred.IsPublic {
		reward := cfg.RewardFor25()
		if newCred.ModelTier == credential.Tier3 {
			reward = cfg.RewardFor30()
		}
		if err := s.userRepo.ApplyBonusDelta(ctx, ownerID, reward); err != nil {
			logx.WithError(err).WithField("credential_id", newCred.ID.String()).Error("failed to credit donation bonus for forced-public upload")
		}
	}

	return &newCred, nil
}
