package credentialinfra

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const driveAboutURL = "https://www.googleapis.com/drive/v3/about?fields=storageQuota"

// DriveChecker resolves the account-type heuristic in
// credentialsrv.Verifier via the Drive v3 about.get endpoint. There is no
// Google Cloud SDK for this single read-only field in the example pack,
// so this is a direct net/http call, the same way pkg/upstream talks to
// Code Assist itself.
type DriveChecker struct {
	httpClient *http.Client
}

func NewDriveChecker() *DriveChecker {
	return &DriveChecker{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// StorageQuotaBytes implements credentialsrv.DriveStorageChecker.
func (d *DriveChecker) StorageQuotaBytes(ctx context.Context, accessToken string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, driveAboutURL, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var body struct {
		StorageQuota struct {
			Limit string `json:"limit"`
		} `json:"storageQuota"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false
	}
	if body.StorageQuota.Limit == "" {
		// Unlimited workspace storage reports no limit field; treat as pro-tier.
		return 1 << 62, true
	}

	limit, err := strconv.ParseInt(body.StorageQuota.Limit, 10, 64)
	if err != nil {
		return 0, false
	}
	return limit, true
}
