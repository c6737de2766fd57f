package desktop

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// ReleaseIndexURL is the package index queried for new releases.
const ReleaseIndexURL = "https://pypi.org/pypi/bmds-ui/json"

// Release is a published version.
type Release struct {
	Version  string
	Uploaded time.Time
}

// LatestRelease returns the last release listed by the package index at
// url.
func LatestRelease(ctx context.Context, hc *http.Client, url string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "desktop: build release request")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Errorf("Could not check latest version; unable to reach %s.", req.URL.Scheme+"://"+req.URL.Host)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("desktop: release index returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "desktop: read release index")
	}

	var rel *Release
	var parseErr error
	gjson.GetBytes(body, "releases").ForEach(func(key, files gjson.Result) bool {
		uploaded := files.Get("0.upload_time").String()
		if uploaded == "" {
			return true
		}
		t, err := time.Parse("2006-01-02T15:04:05", uploaded)
		if err != nil {
			parseErr = eris.Wrapf(err, "desktop: parse upload time %q", uploaded)
			return false
		}
		rel = &Release{Version: key.String(), Uploaded: t}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if rel == nil {
		return nil, eris.New("desktop: no releases found")
	}
	return rel, nil
}

// CompareVersions compares dotted numeric versions; a pre-release suffix
// such as "a1" sorts before the bare release.
func CompareVersions(a, b string) int {
	pa, sa := splitVersion(a)
	pb, sb := splitVersion(b)
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	switch {
	case sa == sb:
		return 0
	case sa == "":
		return 1
	case sb == "":
		return -1
	case sa < sb:
		return -1
	default:
		return 1
	}
}

func splitVersion(v string) ([]int, string) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	var nums []int
	for _, part := range strings.Split(v, ".") {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		n, _ := strconv.Atoi(part[:end])
		nums = append(nums, n)
		if end < len(part) {
			return nums, part[end:]
		}
	}
	return nums, ""
}

// VersionMessage describes how current compares with the latest release.
func VersionMessage(current string, latest Release) string {
	released := latest.Uploaded.Format("Jan 02, 2006")
	switch c := CompareVersions(current, latest.Version); {
	case c == 0:
		return fmt.Sprintf("You have the latest version installed, %s (released %s).", latest.Version, released)
	case c < 0:
		return fmt.Sprintf("There is a newer version available, %s (released %s).", latest.Version, released)
	default:
		return fmt.Sprintf("You have a newer version than what's currently available, %s (released %s).", latest.Version, released)
	}
}
