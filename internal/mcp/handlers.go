package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/browser"
	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
	"github.com/ppiankov/reaper/internal/terminate"
)

// --- Input/Output types ---

// CatalogInput is empty.
type CatalogInput struct{}

// CatalogOutput lists the catalog.
type CatalogOutput struct {
	Capabilities []CapabilityItem `json:"capabilities"`
}

// CapabilityItem describes one capability.
type CapabilityItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Permission string   `json:"permission"`
	Risk       string   `json:"risk"`
	Kind       string   `json:"kind"`
	Ladder     []string `json:"ladder,omitempty"`
}

// ProcessesInput filters the process list.
type ProcessesInput struct {
	Name  string `json:"name,omitempty" jsonschema:"case-insensitive substring of the process name"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of rows, default 50"`
}

// ProcessesOutput lists processes.
type ProcessesOutput struct {
	Processes []ProcessItem `json:"processes"`
}

// ProcessItem is one process row.
type ProcessItem struct {
	PID       int32  `json:"pid"`
	Name      string `json:"name"`
	BundleID  string `json:"bundle_id,omitempty"`
	RSS       uint64 `json:"rss"`
	Mine      bool   `json:"mine"`
	Protected bool   `json:"protected"`
}

// TerminateInput names the process.
type TerminateInput struct {
	PID       int32 `json:"pid" jsonschema:"process id"`
	NoElevate bool  `json:"no_elevate,omitempty" jsonschema:"stop before asking for administrator rights"`
}

// OutcomeOutput is the common result of an action.
type OutcomeOutput struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Tier      string `json:"tier"`
}

// TerminateOutput reports a termination.
type TerminateOutput struct {
	Outcome  OutcomeOutput   `json:"outcome"`
	State    string          `json:"state"`
	Attempts []model.Attempt `json:"attempts"`
	Shared   bool            `json:"shared,omitempty"`
}

// BrowserInput names a browser.
type BrowserInput struct {
	Browser string `json:"browser" jsonschema:"safari, chrome, edge, brave or arc"`
}

// TabsOutput lists tabs.
type TabsOutput struct {
	Browser string        `json:"browser"`
	Tabs    []browser.Tab `json:"tabs"`
}

// CloseTabInput addresses a tab.
type CloseTabInput struct {
	Browser string `json:"browser" jsonschema:"safari, chrome, edge, brave or arc"`
	Window  int    `json:"window" jsonschema:"1-based window index"`
	Tab     int    `json:"tab" jsonschema:"1-based tab index"`
}

// CloseWindowInput addresses a window.
type CloseWindowInput struct {
	Browser string `json:"browser" jsonschema:"safari, chrome, edge, brave or arc"`
	Window  int    `json:"window" jsonschema:"1-based window index"`
}

// MaintenanceInput names a maintenance capability.
type MaintenanceInput struct {
	Capability string `json:"capability" jsonschema:"memory.purge, dns.flush_cache or quicklook.reset_cache"`
	Elevate    bool   `json:"elevate,omitempty" jsonschema:"allow an administrator prompt if the action needs it"`
}

// MaintenanceOutput reports a maintenance run.
type MaintenanceOutput struct {
	Outcome OutcomeOutput `json:"outcome"`
	Output  string        `json:"output,omitempty"`
}

// PermissionsInput is empty.
type PermissionsInput struct{}

// PermissionsOutput lists permission states.
type PermissionsOutput struct {
	States []PermissionItem `json:"states"`
}

// PermissionItem is one subject's cached state.
type PermissionItem struct {
	Subject       string `json:"subject"`
	Status        string `json:"status"`
	Source        string `json:"source,omitempty"`
	LastCheckedAt string `json:"last_checked_at,omitempty"`
	Attempted     bool   `json:"auto_remediation_attempted"`
	Error         string `json:"error,omitempty"`
}

// FixPermissionInput names a subject.
type FixPermissionInput struct {
	Subject string `json:"subject" jsonschema:"automation:<bundle id>, accessibility or process_ownership:<pid>"`
}

// FixPermissionOutput reports a remediation request.
type FixPermissionOutput struct {
	State     PermissionItem `json:"state"`
	Debounced bool           `json:"debounced"`
}

// AuditInput filters audit records.
type AuditInput struct {
	SessionID  string `json:"session_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	Last       int    `json:"last,omitempty" jsonschema:"only the most recent N records, default 20"`
}

// AuditOutput lists audit records.
type AuditOutput struct {
	Records []audit.RunRecord `json:"records"`
}

// --- Handlers ---

func outcomeOutput(out model.Outcome) OutcomeOutput {
	return OutcomeOutput{
		Status:    string(out.Status),
		ErrorKind: string(out.Kind),
		Message:   out.Message,
		Tier:      string(out.Tier),
	}
}

func permissionItem(st permission.State) PermissionItem {
	item := PermissionItem{
		Subject:   st.Subject.String(),
		Status:    string(st.Status),
		Source:    st.Source,
		Attempted: st.AutoRemediationAttempted,
		Error:     st.Error,
	}
	if !st.LastCheckedAt.IsZero() {
		item.LastCheckedAt = st.LastCheckedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func failed(ok bool) *mcpsdk.CallToolResult {
	if ok {
		return nil
	}
	return &mcpsdk.CallToolResult{IsError: true}
}

func (s *Server) handleCatalog(_ context.Context, _ *mcpsdk.CallToolRequest, _ CatalogInput) (*mcpsdk.CallToolResult, CatalogOutput, error) {
	var out CatalogOutput
	for _, c := range s.rt.Catalog.All() {
		out.Capabilities = append(out.Capabilities, CapabilityItem{
			ID:         c.ID,
			Name:       c.DisplayName,
			Permission: c.Permission.String(),
			Risk:       c.Risk.String(),
			Kind:       c.Operation.Kind(),
			Ladder:     c.Ladder,
		})
	}
	return nil, out, nil
}

func (s *Server) handleProcesses(ctx context.Context, _ *mcpsdk.CallToolRequest, input ProcessesInput) (*mcpsdk.CallToolResult, ProcessesOutput, error) {
	snaps, err := s.rt.Table.List(ctx)
	if err != nil {
		return nil, ProcessesOutput{}, fmt.Errorf("list processes: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].RSS > snaps[j].RSS })
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(input.Name)
	out := ProcessesOutput{Processes: []ProcessItem{}}
	for _, snap := range snaps {
		if needle != "" && !strings.Contains(strings.ToLower(snap.Name), needle) {
			continue
		}
		t := s.rt.Resolver.FromSnapshot(ctx, snap)
		out.Processes = append(out.Processes, ProcessItem{
			PID:       t.PID,
			Name:      t.Name,
			BundleID:  t.BundleID,
			RSS:       snap.RSS,
			Mine:      t.OwnerMatchesCurrentUser,
			Protected: t.IsProtected,
		})
		if len(out.Processes) == limit {
			break
		}
	}
	return nil, out, nil
}

func (s *Server) handleTerminate(ctx context.Context, _ *mcpsdk.CallToolRequest, input TerminateInput) (*mcpsdk.CallToolResult, TerminateOutput, error) {
	if input.PID <= 0 {
		return nil, TerminateOutput{}, fmt.Errorf("pid must be positive")
	}
	res := s.rt.TerminatePID(ctx, input.PID, input.NoElevate)
	return failed(res.Outcome.OK()), terminateOutput(res), nil
}

func terminateOutput(res terminate.Result) TerminateOutput {
	return TerminateOutput{
		Outcome:  outcomeOutput(res.Outcome),
		State:    string(res.State),
		Attempts: res.Attempts,
		Shared:   res.Shared,
	}
}

func (s *Server) controller(name string) (*browser.Controller, error) {
	t, err := browser.Lookup(name)
	if err != nil {
		return nil, err
	}
	c, ok := s.rt.Browsers[t.Browser]
	if !ok {
		return nil, fmt.Errorf("browser %s is not wired", t.Browser)
	}
	return c, nil
}

func (s *Server) handleTabs(ctx context.Context, _ *mcpsdk.CallToolRequest, input BrowserInput) (*mcpsdk.CallToolResult, TabsOutput, error) {
	c, err := s.controller(input.Browser)
	if err != nil {
		return nil, TabsOutput{}, err
	}
	tabs, err := c.EnumerateTabs(ctx)
	if err != nil {
		return nil, TabsOutput{}, fmt.Errorf("%s", model.UserMessage(err))
	}
	if tabs == nil {
		tabs = []browser.Tab{}
	}
	return nil, TabsOutput{Browser: c.Target().DisplayName, Tabs: tabs}, nil
}

func (s *Server) handleCloseTab(ctx context.Context, _ *mcpsdk.CallToolRequest, input CloseTabInput) (*mcpsdk.CallToolResult, OutcomeOutput, error) {
	c, err := s.controller(input.Browser)
	if err != nil {
		return nil, OutcomeOutput{}, err
	}
	err = c.CloseTab(ctx, input.Window, input.Tab)
	out := outcomeOutput(model.OutcomeFor(model.TierUser, err))
	return failed(err == nil), out, nil
}

func (s *Server) handleCloseWindow(ctx context.Context, _ *mcpsdk.CallToolRequest, input CloseWindowInput) (*mcpsdk.CallToolResult, OutcomeOutput, error) {
	c, err := s.controller(input.Browser)
	if err != nil {
		return nil, OutcomeOutput{}, err
	}
	err = c.CloseAllTabs(ctx, input.Window)
	out := outcomeOutput(model.OutcomeFor(model.TierUser, err))
	return failed(err == nil), out, nil
}

var maintenanceIDs = map[string]bool{
	capability.MemoryPurge:    true,
	capability.DNSFlush:       true,
	capability.QuickLookReset: true,
}

func (s *Server) handleMaintenance(ctx context.Context, _ *mcpsdk.CallToolRequest, input MaintenanceInput) (*mcpsdk.CallToolResult, MaintenanceOutput, error) {
	if !maintenanceIDs[input.Capability] {
		return nil, MaintenanceOutput{}, fmt.Errorf("%q is not a maintenance action", input.Capability)
	}
	res := s.rt.Maintenance(ctx, input.Capability, input.Elevate)
	return failed(res.OK()), MaintenanceOutput{Outcome: outcomeOutput(res), Output: string(res.Output)}, nil
}

func (s *Server) handlePermissions(_ context.Context, _ *mcpsdk.CallToolRequest, _ PermissionsInput) (*mcpsdk.CallToolResult, PermissionsOutput, error) {
	subjects := []model.Subject{model.Accessibility()}
	for _, t := range browser.Targets() {
		subjects = append(subjects, model.Automation(t.BundleID))
	}
	out := PermissionsOutput{}
	for _, subj := range subjects {
		out.States = append(out.States, permissionItem(s.rt.Tracker.Status(subj)))
	}
	return nil, out, nil
}

func (s *Server) handleFixPermission(ctx context.Context, _ *mcpsdk.CallToolRequest, input FixPermissionInput) (*mcpsdk.CallToolResult, FixPermissionOutput, error) {
	subj, err := model.ParseSubject(input.Subject)
	if err != nil {
		return nil, FixPermissionOutput{}, err
	}
	rem, err := s.rt.Tracker.RequestRemediation(ctx, subj)
	if err != nil {
		return nil, FixPermissionOutput{}, err
	}
	return nil, FixPermissionOutput{State: permissionItem(rem.State), Debounced: rem.Debounced}, nil
}

func (s *Server) handleAudit(_ context.Context, _ *mcpsdk.CallToolRequest, input AuditInput) (*mcpsdk.CallToolResult, AuditOutput, error) {
	last := input.Last
	if last <= 0 {
		last = 20
	}
	recs, err := s.rt.Audit.Records(audit.Filter{
		SessionID:    input.SessionID,
		CapabilityID: input.Capability,
		Last:         last,
	})
	if err != nil {
		return nil, AuditOutput{}, err
	}
	if recs == nil {
		recs = []audit.RunRecord{}
	}
	return nil, AuditOutput{Records: recs}, nil
}
