package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultUpdateRequestTimeout = 15 * time.Second
	DefaultReleaseQueryURL      = "https://git.skobk.in/api/v1/repos/skobkin/carlinkgo/releases?draft=false&pre-release=false&limit=5"
)

// ReleaseInfo is one published release.
type ReleaseInfo struct {
	Version     string
	HTMLURL     string
	PublishedAt time.Time
}

// UpdateCheck is the result of comparing the running build with the newest release.
type UpdateCheck struct {
	CurrentVersion  string
	Latest          ReleaseInfo
	UpdateAvailable bool
}

type forgejoRelease struct {
	TagName     string    `json:"tag_name"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

// CheckForUpdate queries the release API at endpoint (DefaultReleaseQueryURL
// when empty). The API lists releases newest first.
func CheckForUpdate(ctx context.Context, client *http.Client, endpoint, current string) (UpdateCheck, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultUpdateRequestTimeout}
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultReleaseQueryURL
	}

	releases, err := fetchReleases(ctx, client, endpoint)
	if err != nil {
		return UpdateCheck{}, err
	}
	if len(releases) == 0 {
		return UpdateCheck{}, fmt.Errorf("release API response is empty")
	}

	current = strings.TrimSpace(current)
	return UpdateCheck{
		CurrentVersion:  current,
		Latest:          releases[0],
		UpdateAvailable: isReleaseNewer(current, releases[0].Version),
	}, nil
}

func fetchReleases(ctx context.Context, client *http.Client, endpoint string) ([]ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create releases request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request releases: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			return nil, fmt.Errorf("request releases: unexpected status %d: %s", resp.StatusCode, trimmed)
		}
		return nil, fmt.Errorf("request releases: unexpected status %d", resp.StatusCode)
	}

	var payload []forgejoRelease
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode releases response: %w", err)
	}

	releases := make([]ReleaseInfo, 0, len(payload))
	for _, item := range payload {
		version := strings.TrimSpace(item.TagName)
		if version == "" {
			continue
		}
		releases = append(releases, ReleaseInfo{
			Version:     version,
			HTMLURL:     strings.TrimSpace(item.HTMLURL),
			PublishedAt: item.PublishedAt,
		})
	}

	return releases, nil
}

// isReleaseNewer treats a non-semver current version (e.g. "dev") as older
// than any valid release.
func isReleaseNewer(currentVersion string, latestVersion string) bool {
	latest := normalizeSemver(latestVersion)
	if !semver.IsValid(latest) {
		return false
	}
	current := normalizeSemver(currentVersion)
	if !semver.IsValid(current) {
		return true
	}

	return semver.Compare(current, latest) < 0
}

func normalizeSemver(version string) string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" || strings.HasPrefix(trimmed, "v") {
		return trimmed
	}

	return "v" + trimmed
}
