package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Browser describes one supported Chromium-family browser and where its
// profile tree lives on each platform. The catalogue is fixed at build time;
// probing is limited to checking which of these well-known paths exist.
type Browser struct {
	// Name is the lowercase identifier used in configuration ("chrome").
	Name string

	// DisplayName is the human-facing name ("Google Chrome").
	DisplayName string

	// darwinDir and linuxDirs are profile-tree roots relative to the home
	// directory. Linux carries both the snap and the classic location.
	darwinDir string
	linuxDirs []string
}

// BrowserInfo is one probed browser installation.
type BrowserInfo struct {
	Name        string
	DisplayName string
	ProfileRoot string
}

var catalogue = []Browser{
	{
		Name:        "chrome",
		DisplayName: "Google Chrome",
		darwinDir:   "Library/Application Support/Google/Chrome",
		linuxDirs:   []string{".config/google-chrome", "snap/chromium/common/chromium"},
	},
	{
		Name:        "brave",
		DisplayName: "Brave",
		darwinDir:   "Library/Application Support/BraveSoftware/Brave-Browser",
		linuxDirs:   []string{".config/BraveSoftware/Brave-Browser"},
	},
	{
		Name:        "edge",
		DisplayName: "Microsoft Edge",
		darwinDir:   "Library/Application Support/Microsoft Edge",
		linuxDirs:   []string{".config/microsoft-edge"},
	},
	{
		Name:        "chromium",
		DisplayName: "Chromium",
		darwinDir:   "Library/Application Support/Chromium",
		linuxDirs:   []string{"snap/chromium/common/chromium", ".config/chromium"},
	},
	{
		Name:        "arc",
		DisplayName: "Arc",
		darwinDir:   "Library/Application Support/Arc/User Data",
		linuxDirs:   nil, // Arc ships on macOS only
	},
}

func browserByName(name string) (Browser, bool) {
	for _, b := range catalogue {
		if b.Name == strings.ToLower(name) {
			return b, true
		}
	}
	return Browser{}, false
}

// profileRoot returns the browser's profile-tree root on this platform, or
// an error when the browser is not installed here.
func (b Browser) profileRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vault: resolve home directory: %w", err)
	}
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		if b.darwinDir != "" {
			candidates = []string{filepath.Join(home, b.darwinDir)}
		}
	default:
		for _, d := range b.linuxDirs {
			candidates = append(candidates, filepath.Join(home, d))
		}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("vault: %s profile directory not found", b.DisplayName)
}

// cookiePath locates the Cookies database for the given profile. Newer
// Chromium versions moved it under a Network/ subdirectory; both locations
// are checked.
func (b Browser) cookiePath(profile string) (string, error) {
	root, err := b.profileRoot()
	if err != nil {
		return "", err
	}
	for _, p := range []string{
		filepath.Join(root, profile, "Network", "Cookies"),
		filepath.Join(root, profile, "Cookies"),
	} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("vault: no Cookies database for %s profile %q under %s", b.DisplayName, profile, root)
}

// ListBrowsers probes the well-known paths and returns every browser whose
// profile tree exists on this machine.
func ListBrowsers() []BrowserInfo {
	var out []BrowserInfo
	for _, b := range catalogue {
		root, err := b.profileRoot()
		if err != nil {
			continue
		}
		out = append(out, BrowserInfo{Name: b.Name, DisplayName: b.DisplayName, ProfileRoot: root})
	}
	return out
}

// ListProfiles enumerates the profile directories of the named browser: the
// subdirectories of the profile root that contain a Cookies database.
func ListProfiles(browser string) ([]string, error) {
	b, ok := browserByName(browser)
	if !ok {
		return nil, fmt.Errorf("vault: unsupported browser %q", browser)
	}
	root, err := b.profileRoot()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("vault: read profile root %q: %w", root, err)
	}
	var profiles []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := b.cookiePath(e.Name()); err == nil {
			profiles = append(profiles, e.Name())
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}
