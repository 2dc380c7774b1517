package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

// PathResolver locates directories relative to the running binary, the
// working directory and the user config directory.
type PathResolver struct {
	executableDir string
	homeDir       string
	configDir     string
}

// NewPathResolver creates a resolver whose config directory is named after app.
func NewPathResolver(app string) (*PathResolver, error) {
	execDir, err := GetExecutableDir()
	if err != nil {
		return nil, err
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}
	pr := &PathResolver{
		executableDir: execDir,
		homeDir:       homeDir,
		configDir:     platformConfigDir(homeDir, app),
	}
	log.Debugf("PathResolver initialized: execDir=%s, configDir=%s", execDir, pr.configDir)
	return pr, nil
}

// platformConfigDir returns the conventional config directory for app.
func platformConfigDir(homeDir, app string) string {
	switch runtime.GOOS {
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, app)
		}
		return filepath.Join(homeDir, ".config", app)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, app)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", app)
	default:
		return filepath.Join(homeDir, ".config", app)
	}
}

// Candidates lists the places a user supplied directory may live, most
// specific first:
//  1. the path itself when absolute
//  2. relative to the working directory
//  3. relative to the executable
//  4. relative to the config directory
func (pr *PathResolver) Candidates(userPath string) []string {
	if userPath == "" {
		return nil
	}
	if filepath.IsAbs(userPath) {
		return []string{userPath}
	}
	var out []string
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(cwd, userPath))
	}
	out = append(out,
		filepath.Join(pr.executableDir, userPath),
		filepath.Join(pr.configDir, userPath),
	)
	return out
}

// FindDir returns the first candidate for userPath that is a directory
// accepted by valid. A nil valid accepts any directory.
func (pr *PathResolver) FindDir(userPath string, valid func(dir string) bool) (string, bool) {
	for _, path := range pr.Candidates(userPath) {
		if !IsDir(path) {
			log.Debugf("Directory candidate missing: %s", path)
			continue
		}
		if valid != nil && !valid(path) {
			log.Debugf("Directory candidate rejected: %s", path)
			continue
		}
		return path, true
	}
	return "", false
}

// HasFileWithExt reports whether dir holds at least one regular file with one
// of the given extensions (with leading dot).
func HasFileWithExt(dir string, exts []string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == want {
				return true
			}
		}
	}
	return false
}

// RuntimeInfo returns debug information about the runtime environment.
func (pr *PathResolver) RuntimeInfo() map[string]string {
	cwd, _ := os.Getwd()
	info := map[string]string{
		"executable_dir": pr.executableDir,
		"current_dir":    cwd,
		"home_dir":       pr.homeDir,
		"config_dir":     pr.configDir,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"go":             runtime.Version(),
	}
	for _, envVar := range []string{"XDG_CONFIG_HOME", "APPDATA"} {
		if value := os.Getenv(envVar); value != "" {
			info["env_"+strings.ToLower(envVar)] = value
		}
	}
	return info
}
