package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	LogPath     string // unit log file, used when the platform logs to files
	Follow      bool
	Lines       int
}

// ViewLogs displays a unit's logs using platform-appropriate tools.
func ViewLogs(opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch runtime.GOOS {
	case "linux":
		if systemdPresent() {
			return viewLogsJournal(opts)
		}
		return viewLogsFile(opts)
	case "windows":
		return viewLogsWindows(opts)
	default:
		return viewLogsFile(opts)
	}
}

// viewLogsJournal uses journalctl for systemd-managed units.
func viewLogsJournal(opts LogOptions) error {
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// viewLogsFile tails the unit's redirected log file.
func viewLogsFile(opts LogOptions) error {
	if opts.LogPath == "" {
		return fmt.Errorf("no log path known for service %q", opts.ServiceName)
	}
	if _, err := os.Stat(opts.LogPath); err != nil {
		fmt.Printf("No log file found for service %q (expected %s)\n", opts.ServiceName, opts.LogPath)
		return nil
	}

	args := []string{"-n", strconv.Itoa(opts.Lines)}
	if opts.Follow {
		args = append(args, "-f")
	}
	args = append(args, opts.LogPath)

	cmd := exec.Command("tail", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// viewLogsWindows queries the Application event log via PowerShell.
func viewLogsWindows(opts LogOptions) error {
	psScript := fmt.Sprintf(`
$events = Get-WinEvent -FilterHashtable @{
    LogName = 'Application'
    ProviderName = '%s'
} -MaxEvents %d -ErrorAction SilentlyContinue

if ($events) {
    $events | Format-Table -Property TimeCreated, LevelDisplayName, Message -AutoSize -Wrap
} else {
    Write-Host "No log entries found for service '%s'"
}
`, opts.ServiceName, opts.Lines, opts.ServiceName)

	cmd := exec.Command("powershell", "-NoProfile", "-Command", psScript)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
