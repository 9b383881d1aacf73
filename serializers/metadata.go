package serializers

import (
	"github.com/zoobzio/apmz"
)

// Metadata builds the wire body of the metadata that heads every stream.
func Metadata(md *apmz.Metadata) map[string]any {
	svc := md.Service
	service := map[string]any{
		"name": keyword(svc.Name),
		"agent": map[string]any{
			"name":    keyword(svc.AgentName),
			"version": keyword(svc.AgentVersion),
		},
		"language": map[string]any{
			"name":    keyword(svc.LanguageName),
			"version": keyword(svc.LanguageVersion),
		},
	}
	putIf(service, "version", keyword(svc.Version))
	putIf(service, "environment", keyword(svc.Environment))

	process := map[string]any{
		"pid":   md.Process.Pid,
		"ppid":  md.Process.Ppid,
		"title": keyword(md.Process.Title),
	}
	if len(md.Process.Argv) > 0 {
		process["argv"] = md.Process.Argv
	}

	out := map[string]any{
		"service": service,
		"process": process,
		"system": map[string]any{
			"hostname":     keyword(md.System.Hostname),
			"architecture": keyword(md.System.Architecture),
			"platform":     keyword(md.System.Platform),
		},
	}
	if len(md.Labels) > 0 {
		out["labels"] = MixedObject(md.Labels)
	}
	return out
}
