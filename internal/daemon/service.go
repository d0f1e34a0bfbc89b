package daemon

import (
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/kardianos/service"
)

const SystemdScript = `[Unit]
Description={{.DisplayName}}
After=local-fs.target
Before=display-manager.service

[Service]
Type=notify
ExecStart={{.Path}}{{range .Arguments}} {{.}}{{end}}
Restart=on-failure
RuntimeDirectory=fadcrypt
RuntimeDirectoryMode=0755

CapabilityBoundingSet=CAP_SYS_ADMIN CAP_LINUX_IMMUTABLE CAP_FOWNER CAP_DAC_READ_SEARCH CAP_CHOWN
NoNewPrivileges=yes
ProtectSystem=full
ProtectHome=no
PrivateTmp=yes

ReadWritePaths=/run/fadcrypt /var/log /etc/fadcrypt

[Install]
WantedBy=multi-user.target
`

const OpenRCScript = `#!/sbin/openrc-run
name="{{.DisplayName}}"
description="{{.Description}}"

command="{{.Path}}"
command_args="{{range .Arguments}}{{.}} {{end}}"
pidfile="/run/fadcrypt/daemon.pid"
command_background="yes"

output_log="/var/log/fadcrypt-daemon.out.log"
error_log="/var/log/fadcrypt-daemon.err.log"

depend() {
    need localmount
}

start_pre() {
    checkpath --directory --owner root:root --mode 0755 /run/fadcrypt
}

stop_post() {
    [ -f "${pidfile}" ] && rm -f "${pidfile}"
}
`

// ServiceConfig describes the daemon to the platform service manager. The
// daemon always runs as root / LocalSystem.
func ServiceConfig(args ...string) *service.Config {
	return &service.Config{
		Name:        constants.ServiceName,
		DisplayName: constants.ServiceDisplayName,
		Description: constants.ServiceDescription,
		Executable:  constants.DaemonBinaryPath,
		Arguments:   args,
		Option: service.KeyValue{
			"SystemdScript": SystemdScript,
			"OpenRCScript":  OpenRCScript,
			"StartType":     "automatic",
			"OnFailure":     "restart",
		},
	}
}
