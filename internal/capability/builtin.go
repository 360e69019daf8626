package capability

import "syscall"

// Process and maintenance capability ids.
const (
	GracefulQuit   = "process.graceful_quit"
	SignalTerm     = "process.signal_term"
	SignalKill     = "process.signal_kill"
	ElevatedKill   = "process.elevated_kill"
	Terminate      = "process.terminate"
	MemoryPurge    = "memory.purge"
	DNSFlush       = "dns.flush_cache"
	QuickLookReset = "quicklook.reset_cache"
)

// Builtin returns the process and maintenance capabilities. Browser
// capabilities are contributed separately and merged at startup.
func Builtin() []Capability {
	return []Capability{
		{
			ID:          GracefulQuit,
			DisplayName: "Quit application",
			Permission:  Requirement{Class: PermSameUserProcess},
			Risk:        RiskMedium,
			Operation:   GraceEndApp{},
		},
		{
			ID:          SignalTerm,
			DisplayName: "Terminate process",
			Permission:  Requirement{Class: PermSameUserProcess},
			Risk:        RiskMedium,
			Operation:   KillSignal{Signal: syscall.SIGTERM},
		},
		{
			ID:          SignalKill,
			DisplayName: "Force kill process",
			Permission:  Requirement{Class: PermSameUserProcess},
			Risk:        RiskHigh,
			Operation:   KillSignal{Signal: syscall.SIGKILL},
		},
		{
			ID:          ElevatedKill,
			DisplayName: "Force kill process as administrator",
			Permission:  Requirement{Class: PermElevatedAuth},
			Risk:        RiskHigh,
			Operation:   KillSignal{Signal: syscall.SIGKILL},
		},
		{
			ID:          Terminate,
			DisplayName: "End process",
			Permission:  Requirement{Class: PermSameUserProcess},
			Risk:        RiskHigh,
			Operation:   KillSignal{Signal: syscall.SIGKILL},
			Ladder:      []string{GracefulQuit, SignalTerm, SignalKill, ElevatedKill},
		},
		{
			ID:          MemoryPurge,
			DisplayName: "Purge inactive memory",
			Permission:  Requirement{Class: PermElevatedAuth},
			Risk:        RiskLow,
			Operation:   MaintenanceCommand{Path: "/usr/sbin/purge", NeedsRoot: true},
		},
		{
			ID:          DNSFlush,
			DisplayName: "Flush DNS cache",
			Permission:  Requirement{Class: PermNone},
			Risk:        RiskLow,
			Operation:   MaintenanceCommand{Path: "/usr/bin/dscacheutil", Args: []string{"-flushcache"}},
		},
		{
			ID:          QuickLookReset,
			DisplayName: "Reset Quick Look cache",
			Permission:  Requirement{Class: PermNone},
			Risk:        RiskLow,
			Operation:   MaintenanceCommand{Path: "/usr/bin/qlmanage", Args: []string{"-r", "cache"}},
		},
	}
}
