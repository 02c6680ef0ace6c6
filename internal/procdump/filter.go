package procdump

import (
	"regexp"
	"strings"
)

var (
	pathPrefixes = []string{"/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/", "/usr/libexec/", "/usr/local/bin/", "-"}
	wrappers     = map[string]bool{"sh": true, "csh": true, "tcsh": true, "bash": true, "perl": true, "python": true}
)

var knownSystemProcesses = []string{
	"wnck-applet", "ibrun", "mpispawn", "mpirun_rsh", "munged", "nscd", "orterun", "perl",
	"wc", "which", "vncserver", "vncconfig", "vim", "vi", "usleep", "uname", "uniq", "tr",
	"top", "time", "tee", "tail", "sync-to-pcp1", "sync-pcp-logs", "sshd:", "sshd", "sort",
	"ssh", "srun", "sh", "squeue", "slurmstepd:", "slurmstepd", "slurm_script", "sleep",
	"sinfo", "sed", "screen", "scontrol", "sbcast", "rsync", "pulseaudio",
	"pulse/gconf-helper", "ps", "pmi_proxy", "nrpe", "nedit", "notification-area-applet",
	"nautilus", "mv", "more", "mktemp", "mkdir", "ln", "ldd", "lsof", "hostname", "gzip",
	"gvfsd-trash", "gvfsd-metadata", "gvfsd-http", "gvfsd-computer", "gvfsd",
	"gvfs-gdu-volume-monitor", "grep", "gnome-terminal", "gnome-settings-daemon",
	"gnome-session", "gnome-pty-helper", "gnome-panel", "gnome-keyring-daemon", "gedit",
	"gdm-user-switch-applet", "gconfd-2", "gawk", "fgrep", "emacs", "echo",
	"dmtcp_restart_s", "dmtcp_restart", "dmtcp_checkpoint", "dmtcp_coordinator",
	"dmtcp_coordinat", "dmtcp_command", "dmesg", "df", "dbus-launch", "dbus-daemon", "cut",
	"crond", "cp", "csh", "cd", "clock-applet", "cat", "bash", "bonobo-activation-server",
	"awk", "SCREEN", "hald-addon-acpi", "hald", "CROND",
	"/usr/lib64/nagios/plugins/check_procs", "/etc/vnc/Xvnc-core",
}

var systemPattern = regexp.MustCompile(`^/user/[a-z0-9]+/\.vnc/xstartup|^/var/spool/slurmd.+|.*pmi_proxy$`)

// Filter decides which commands are system or launcher noise rather than
// user applications.
type Filter struct {
	known   map[string]bool
	pattern *regexp.Regexp
}

// DefaultFilter returns the stock list of system processes.
func DefaultFilter() *Filter {
	return NewFilter(knownSystemProcesses, systemPattern)
}

// NewFilter builds a filter from exact command names and an optional pattern.
func NewFilter(known []string, pattern *regexp.Regexp) *Filter {
	f := &Filter{known: make(map[string]bool, len(known)), pattern: pattern}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

// Blocked reports whether command should be left out of the inventory.
func (f *Filter) Blocked(command string) bool {
	if f.known[command] {
		return true
	}
	return f.pattern != nil && f.pattern.MatchString(command)
}

// Command extracts the program name from a command line. Interpreter
// wrappers are skipped in favour of the first non-option argument; ok is
// false when a wrapper has no such argument.
func Command(cmdline string) (string, bool) {
	args := strings.Split(cmdline, " ")
	cmd := stripPath(args[0])
	if !wrappers[cmd] {
		return cmd, true
	}
	for _, a := range args[1:] {
		if a != "" && !strings.HasPrefix(a, "-") {
			return stripPath(a), true
		}
	}
	return "", false
}

func stripPath(cmd string) string {
	for _, p := range pathPrefixes {
		if strings.HasPrefix(cmd, p) {
			return strings.Trim(cmd[len(p):], `";`)
		}
	}
	return cmd
}
