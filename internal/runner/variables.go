package runner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/inercia/dbgctl/internal/appdir"
	"github.com/inercia/dbgctl/internal/config"
)

// VariableResolver substitutes variables in folder restrictions.
//
// Supported: $PWD, $HOME, $DBGCTL_DIR, $USER and $TMPDIR, with or without
// braces, and a leading ~/.
type VariableResolver struct {
	replacer *strings.Replacer
	home     string
}

// NewVariableResolver creates a resolver; workDir is the value of $PWD.
func NewVariableResolver(workDir string) *VariableResolver {
	home, _ := os.UserHomeDir()
	dataDir, _ := appdir.Dir()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	vars := map[string]string{
		"PWD":        workDir,
		"HOME":       home,
		"DBGCTL_DIR": dataDir,
		"USER":       user,
		"TMPDIR":     os.TempDir(),
	}
	// longest names first so $DBGCTL_DIR is not eaten by a shorter match
	names := []string{"DBGCTL_DIR", "TMPDIR", "HOME", "USER", "PWD"}
	pairs := make([]string, 0, len(names)*4)
	for _, n := range names {
		pairs = append(pairs, "${"+n+"}", vars[n], "$"+n, vars[n])
	}
	return &VariableResolver{replacer: strings.NewReplacer(pairs...), home: home}
}

// Resolve expands variables in path.
func (vr *VariableResolver) Resolve(path string) string {
	path = vr.replacer.Replace(path)
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(vr.home, path[2:])
	}
	return path
}

// ResolvePaths expands variables in every path.
func (vr *VariableResolver) ResolvePaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = vr.Resolve(p)
	}
	return out
}

func resolveVariables(r *config.RunnerRestrictions, vr *VariableResolver) *config.RunnerRestrictions {
	if r == nil {
		return nil
	}
	return &config.RunnerRestrictions{
		AllowNetworking:   r.AllowNetworking,
		AllowReadFolders:  vr.ResolvePaths(r.AllowReadFolders),
		AllowWriteFolders: vr.ResolvePaths(r.AllowWriteFolders),
		DenyFolders:       vr.ResolvePaths(r.DenyFolders),
		Docker:            r.Docker,
	}
}
