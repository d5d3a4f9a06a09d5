package svc

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
)

const defaultDaemonDir = "/Library/LaunchDaemons"

// labelPrefix namespaces our launchd labels.
const labelPrefix = "com.ztconnect."

// launchdSupervisor manages units through plists under /Library/LaunchDaemons.
// ThrottleInterval spaces respawns one minute apart; launchd itself has no
// attempt cap, so the bounded native layer is the throttle, and the watchdog
// keeps retrying above it.
type launchdSupervisor struct {
	daemonDir string
	run       runner
}

func newLaunchd(r runner) *launchdSupervisor {
	return &launchdSupervisor{daemonDir: defaultDaemonDir, run: r}
}

func (l *launchdSupervisor) label(name string) string {
	return labelPrefix + name
}

func (l *launchdSupervisor) plistPath(name string) string {
	return filepath.Join(l.daemonDir, l.label(name)+".plist")
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args}}
		<string>{{.}}</string>
{{- end}}
	</array>
{{- if .Env}}
	<key>EnvironmentVariables</key>
	<dict>
{{- range $k, $v := .Env}}
		<key>{{$k}}</key>
		<string>{{$v}}</string>
{{- end}}
	</dict>
{{- end}}
	<key>RunAtLoad</key>
	<{{if .RunAtLoad}}true{{else}}false{{end}}/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>ThrottleInterval</key>
	<integer>60</integer>
{{- if .LogPath}}
	<key>StandardOutPath</key>
	<string>{{.LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}</string>
{{- end}}
{{- if .UserName}}
	<key>UserName</key>
	<string>{{.UserName}}</string>
{{- end}}
</dict>
</plist>
`))

type plistData struct {
	Label     string
	Args      []string
	Env       map[string]string
	RunAtLoad bool
	LogPath   string
	UserName  string
}

func renderPlist(label string, spec UnitSpec) (string, error) {
	args := make([]string, 0, len(spec.Args)+1)
	args = append(args, xmlEscape(spec.Command))
	for _, a := range spec.Args {
		args = append(args, xmlEscape(a))
	}

	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[xmlEscape(k)] = xmlEscape(v)
	}

	var b strings.Builder
	err := plistTemplate.Execute(&b, plistData{
		Label:     xmlEscape(label),
		Args:      args,
		Env:       env,
		RunAtLoad: spec.Autostart,
		LogPath:   xmlEscape(spec.LogPath),
		UserName:  xmlEscape(spec.UserName),
	})
	if err != nil {
		return "", fmt.Errorf("render plist: %w", err)
	}
	return b.String(), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (l *launchdSupervisor) Register(ctx context.Context, spec UnitSpec) (*Record, error) {
	plist, err := renderPlist(l.label(spec.Name), spec)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.daemonDir, 0755); err != nil {
		return nil, fmt.Errorf("create daemon directory: %w", err)
	}
	path := l.plistPath(spec.Name)
	if err := os.WriteFile(path, []byte(plist), 0644); err != nil {
		return nil, fmt.Errorf("write plist: %w", err)
	}

	// bootstrap loads the job; RunAtLoad in the plist controls boot-time start.
	if _, err := l.run.run(ctx, "launchctl", "bootstrap", "system", path); err != nil {
		return nil, fmt.Errorf("bootstrap daemon: %w", err)
	}

	log.Debug().Str("label", l.label(spec.Name)).Msg("launchd daemon registered")
	return &Record{Name: spec.Name, Backend: "launchd"}, nil
}

func (l *launchdSupervisor) Start(ctx context.Context, rec *Record) error {
	_, err := l.run.run(ctx, "launchctl", "kickstart", "system/"+l.label(rec.Name))
	return err
}

func (l *launchdSupervisor) Stop(ctx context.Context, rec *Record) error {
	_, err := l.run.run(ctx, "launchctl", "kill", "SIGTERM", "system/"+l.label(rec.Name))
	return err
}

func (l *launchdSupervisor) Restart(ctx context.Context, rec *Record) error {
	_, err := l.run.run(ctx, "launchctl", "kickstart", "-k", "system/"+l.label(rec.Name))
	return err
}

func (l *launchdSupervisor) IsAlive(ctx context.Context, rec *Record) (bool, error) {
	out, err := l.run.run(ctx, "launchctl", "print", "system/"+l.label(rec.Name))
	if err != nil {
		// print fails when the job is not loaded.
		return false, nil
	}
	// A loaded job has "pid = N" while a process is running.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "pid =") {
			return true, nil
		}
	}
	return false, nil
}

func (l *launchdSupervisor) Remove(ctx context.Context, rec *Record) error {
	path := l.plistPath(rec.Name)
	if _, err := l.run.run(ctx, "launchctl", "bootout", "system", path); err != nil {
		log.Debug().Err(err).Str("label", l.label(rec.Name)).Msg("bootout before removal failed")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}
