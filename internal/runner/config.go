package runner

import (
	grrunner "github.com/inercia/go-restricted-runner/pkg/runner"

	"github.com/inercia/dbgctl/internal/config"
)

// resolveConfig overlays the backend runner on the global one. The result
// is the exec runner without restrictions when both are nil.
func resolveConfig(global, backend *config.RunnerConfig) *ResolvedConfig {
	resolved := &ResolvedConfig{Type: "exec"}

	for _, rc := range []*config.RunnerConfig{global, backend} {
		if rc == nil {
			continue
		}
		if rc.Type != "" {
			resolved.Type = rc.Type
		}
		strategy := rc.MergeStrategy
		if strategy == "" {
			strategy = "extend"
		}
		resolved.Restrictions = MergeRestrictions(resolved.Restrictions, rc.Restrictions, strategy)
	}
	return resolved
}

// MergeRestrictions merges override into base. With strategy "replace" the
// override wins outright; "extend" unions folder lists and lets set fields
// of override take precedence.
func MergeRestrictions(base, override *config.RunnerRestrictions, strategy string) *config.RunnerRestrictions {
	if override == nil {
		return base
	}
	if strategy == "replace" {
		return override
	}

	merged := &config.RunnerRestrictions{}
	if base != nil {
		*merged = *base
	}
	if override.AllowNetworking != nil {
		merged.AllowNetworking = override.AllowNetworking
	}
	merged.AllowReadFolders = mergeFolderLists(merged.AllowReadFolders, override.AllowReadFolders)
	merged.AllowWriteFolders = mergeFolderLists(merged.AllowWriteFolders, override.AllowWriteFolders)
	merged.DenyFolders = mergeFolderLists(merged.DenyFolders, override.DenyFolders)
	if override.Docker != nil {
		merged.Docker = override.Docker
	}
	return merged
}

// mergeFolderLists appends override to base without duplicates.
func mergeFolderLists(base, override []string) []string {
	if len(override) == 0 {
		return base
	}

	seen := make(map[string]bool, len(base)+len(override))
	result := make([]string, 0, len(base)+len(override))
	for _, list := range [][]string{base, override} {
		for _, path := range list {
			if !seen[path] {
				result = append(result, path)
				seen[path] = true
			}
		}
	}
	return result
}

func toRunnerOptions(restrictions *config.RunnerRestrictions) grrunner.Options {
	options := grrunner.Options{}
	if restrictions == nil {
		return options
	}

	if restrictions.AllowNetworking != nil {
		options["allow_networking"] = *restrictions.AllowNetworking
	}
	if len(restrictions.AllowReadFolders) > 0 {
		options["allow_read_folders"] = restrictions.AllowReadFolders
	}
	if len(restrictions.AllowWriteFolders) > 0 {
		options["allow_write_folders"] = restrictions.AllowWriteFolders
	}
	if d := restrictions.Docker; d != nil {
		if d.Image != "" {
			options["image"] = d.Image
		}
		if d.MemoryLimit != "" {
			options["memory_limit"] = d.MemoryLimit
		}
		if d.CPULimit != "" {
			options["cpu_limit"] = d.CPULimit
		}
	}
	return options
}

func toRunnerType(typeStr string) grrunner.Type {
	switch typeStr {
	case "sandbox-exec":
		return grrunner.TypeSandboxExec
	case "firejail":
		return grrunner.TypeFirejail
	case "docker":
		return grrunner.TypeDocker
	default:
		return grrunner.TypeExec
	}
}
