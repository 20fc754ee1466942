package tools

import "net/http"

// Store is the persistence surface the built-in tools need.
type Store interface {
	ContentStore
	DelegateStore
}

// Deps wires the built-in tools to the rest of the system.
type Deps struct {
	Store          Store
	Creator        TaskCreator
	Trigger        func()
	HTTPClient     *http.Client
	Allowlist      map[string][]string
	ExportDir      string
	ExportBaseURL  string
	DisableNetwork bool
}

// NewDefaultRegistry registers every built-in tool. Network tools are left
// out when DisableNetwork is set; delegate_task needs both Store and Creator.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(deps.Allowlist)
	r.Register(NewMusicTheoryTool())
	r.Register(NewValidateTabTool())
	r.Register(NewBrandContextTool())
	if deps.Store != nil {
		r.Register(NewListContentTool(deps.Store))
		r.Register(NewSearchTasksTool(deps.Store))
		if deps.Creator != nil {
			r.Register(NewDelegateTaskTool(deps.Store, deps.Creator, deps.Trigger))
		}
	}
	if deps.ExportDir != "" {
		r.Register(NewWriteContentTool(deps.ExportDir, deps.ExportBaseURL))
	}
	if !deps.DisableNetwork {
		r.Register(NewFetchURLTool(deps.HTTPClient))
		r.Register(NewSearchWebTool(deps.HTTPClient))
	}
	return r
}
